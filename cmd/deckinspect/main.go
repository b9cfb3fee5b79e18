// Command deckinspect prints the slide structure of a .pptx file as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/gnemet/PromptDeck/internal/pptx"
	"github.com/gnemet/PromptDeck/internal/preview"
)

func main() {
	summary := pflag.Bool("summary", false, "print titles and short texts only")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: deckinspect [--summary] <pptx_path>")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	path := pflag.Arg(0)

	var out any
	var err error
	if *summary {
		out, err = preview.Build(path, path)
	} else {
		out, err = pptx.ReadSlides(path)
	}
	if err != nil {
		slog.Error("deckinspect: reading presentation", "path", path, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("deckinspect: encoding", "error", err)
		os.Exit(1)
	}
}
