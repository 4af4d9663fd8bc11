package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/born-ml/ct2spec/internal/format"
	"github.com/born-ml/ct2spec/internal/spec"
)

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	var (
		flagSummary = fs.Bool("summary", true, "Display the model header, variable counts and sizes.")
		flagVars    = fs.Bool("vars", false, "List the variables under -scope.")
		flagScope   = fs.String("scope", "", "Only list variables whose name starts with this prefix.")
		flagDigest  = fs.Bool("digest", false, "Include the SHA-256 of the file in the summary.")
		flagVerify  = fs.String("verify", "", "Fail unless the file has this hex SHA-256 (as printed by convert).")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("inspect: expected exactly one model.bin path")
	}
	path := fs.Arg(0)

	if *flagVerify != "" {
		if err := format.VerifyFile(path, strings.TrimSpace(*flagVerify)); err != nil {
			return errors.Wrap(err, "verification failed")
		}
	}

	model, err := format.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %q", path)
	}

	if *flagSummary {
		table := newPlainTable(false)
		for _, row := range summaryRows(path, model) {
			table.Row(row...)
		}
		if *flagDigest {
			digest, err := format.DigestFile(path)
			if err != nil {
				return errors.WithStack(err)
			}
			table.Row("sha256", digest)
		}
		fmt.Println(table.Render())
	}

	if *flagVars {
		table := newPlainTable(true)
		table.Headers("Name", "DType", "Shape", "Size", "Bytes", "Value")
		for _, row := range variableRows(model, *flagScope) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}
	return nil
}

func summaryRows(path string, model *format.Model) [][]string {
	var params int64
	for _, e := range model.Entries() {
		if !e.IsScalar() {
			params += int64(e.NumElements())
		}
	}
	return [][]string{
		{"model", path},
		{"spec", model.Header.Name},
		{"revision", fmt.Sprint(model.Header.Revision)},
		{"binary version", fmt.Sprint(model.Header.Version)},
		{"# variables", humanize.Comma(int64(len(model.Variables)))},
		{"# aliases", humanize.Comma(int64(len(model.Aliases)))},
		{"# parameters", humanize.Comma(params)},
		{"# bytes", humanize.Bytes(uint64(model.DataSize()))},
	}
}

// variableRows lists stored variables and then aliases, in file order.
func variableRows(model *format.Model, scope string) [][]string {
	var rows [][]string
	for i, e := range model.Entries() {
		if !strings.HasPrefix(e.Name, scope) {
			continue
		}
		value := ""
		if s, ok := model.Variables[i].Value.(spec.Scalar); ok {
			value = s.String()
		}
		rows = append(rows, []string{
			e.Name,
			e.DType.String(),
			fmt.Sprint(e.Shape),
			humanize.Comma(int64(e.NumElements())),
			humanize.Bytes(uint64(e.NBytes)),
			value,
		})
	}
	for _, a := range model.Aliases {
		if strings.HasPrefix(a.Name, scope) {
			rows = append(rows, []string{a.Name, "alias", "-> " + a.Target, "", "", ""})
		}
	}
	return rows
}
