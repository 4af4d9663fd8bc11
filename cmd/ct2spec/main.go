// Command ct2spec converts Hugging Face decoder checkpoints into runtime model
// directories and inspects serialized model.bin files.
//
// Usage:
//
//	ct2spec [-v=N] convert -model DIR -out DIR [-profile FILE] [-quantization MODE]
//	ct2spec inspect [-vars] [-summary] [-scope PREFIX] model.bin
//	ct2spec version
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0"

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command> [command flags]\n\n", os.Args[0])
	_, _ = fmt.Fprintln(out, "Commands:")
	_, _ = fmt.Fprintln(out, "  convert    Convert a safetensors checkpoint to model.bin")
	_, _ = fmt.Fprintln(out, "  inspect    Describe the variables of a model.bin")
	_, _ = fmt.Fprintln(out, "  version    Show version")
	_, _ = fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	defer klog.Flush()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "convert":
		err = runConvert(args[1:])
	case "inspect":
		err = runInspect(args[1:])
	case "version":
		fmt.Printf("ct2spec %s\n", version)
	default:
		klog.Errorf("Unknown command %q. See '%s -help'.", args[0], os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
