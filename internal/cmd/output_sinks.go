package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llmgate/llmgate/internal/output"
)

// outputSink is where a command renders its report. close is always safe to
// call.
type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

var extensions = map[output.Format]string{
	output.FormatJSON:     "json",
	output.FormatMarkdown: "md",
}

func outputExtension(format output.Format) string {
	if ext, ok := extensions[format]; ok {
		return ext
	}
	return "txt"
}

func addOutputFlags(cmd *cobra.Command, formats string) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: "+formats)
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// openCommandSink resolves --out and --out-dir for cmd. --out-dir writes
// <name>.<ext> into the directory; with neither flag output goes to the
// command's stdout.
func openCommandSink(cmd *cobra.Command, format output.Format, name string) (*outputSink, error) {
	outPath, _ := cmd.Flags().GetString("out")
	outDir, _ := cmd.Flags().GetString("out-dir")
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)

	switch {
	case outPath != "" && outDir != "":
		return nil, fmt.Errorf("--out and --out-dir are mutually exclusive")
	case outDir != "":
		outPath = filepath.Join(outDir, name+"."+outputExtension(format))
	case outPath == "" || outPath == "-":
		return &outputSink{writer: cmd.OutOrStdout(), close: func() error { return nil }, path: "-"}, nil
	}

	// #nosec G301 -- report directories use 0755 like the data directory
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &outputSink{writer: file, close: file.Close, path: outPath}, nil
}
