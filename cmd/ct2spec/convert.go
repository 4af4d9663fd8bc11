package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/born-ml/ct2spec/internal/convert"
	"github.com/born-ml/ct2spec/internal/parallel"
	"github.com/born-ml/ct2spec/internal/quantize"
)

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	var (
		flagModel        = fs.String("model", "", "Checkpoint directory with safetensors weights and config.json.")
		flagOut          = fs.String("out", "", "Output directory for model.bin, config.json and vocabulary.json.")
		flagProfile      = fs.String("profile", "", "YAML conversion profile. Defaults to one derived from the checkpoint's config.json.")
		flagQuantization = fs.String("quantization", "", fmt.Sprintf("Weight storage mode, one of %v. Overrides the profile.", quantize.Modes))
		flagWorkers      = fs.Int("workers", runtime.NumCPU(), "Number of layers filled concurrently.")
		flagForce        = fs.Bool("force", false, "Overwrite an existing model.bin.")
		flagProgress     = fs.Bool("progress", true, "Show a progress bar.")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *flagModel == "" || *flagOut == "" {
		fs.Usage()
		return errors.New("convert: -model and -out are required")
	}

	opts := convert.Options{
		ModelDir:  *flagModel,
		OutputDir: *flagOut,
		Parallel: parallel.Config{
			Enabled:      *flagWorkers > 1,
			NumWorkers:   max(*flagWorkers, 1),
			MinChunkSize: parallel.DefaultConfig().MinChunkSize,
		},
		Force:    *flagForce,
		Progress: *flagProgress,
	}
	if *flagProfile != "" {
		profile, err := convert.LoadProfile(*flagProfile)
		if err != nil {
			return errors.WithStack(err)
		}
		opts.Profile = &profile
	}
	if *flagQuantization != "" {
		mode, err := quantize.ParseMode(*flagQuantization)
		if err != nil {
			return errors.WithStack(err)
		}
		opts.Quantization = mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	res, err := convert.Run(ctx, opts)
	if err != nil {
		return err
	}

	table := newPlainTable(false)
	table.Row("model", res.ModelPath)
	table.Row("sha256", res.Digest)
	table.Row("# variables", humanize.Comma(int64(res.Variables)))
	table.Row("# skipped tensors", humanize.Comma(int64(len(res.Skipped))))
	if res.Quantize.Quantized > 0 {
		table.Row("# quantized", humanize.Comma(int64(res.Quantize.Quantized)))
	}
	if res.Quantize.Converted > 0 {
		table.Row("# converted", humanize.Comma(int64(res.Quantize.Converted)))
	}
	if res.Quantize.BytesBefore > 0 {
		table.Row("weights", fmt.Sprintf("%s -> %s",
			humanize.Bytes(uint64(res.Quantize.BytesBefore)), humanize.Bytes(uint64(res.Quantize.BytesAfter))))
	}
	if res.VocabSize > 0 {
		table.Row("vocabulary", humanize.Comma(int64(res.VocabSize)))
	}
	fmt.Println(table.Render())
	return nil
}
