package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func newConvertCommand() *cobra.Command {
	var (
		format string
		output string
		indent bool
	)
	cmd := &cobra.Command{
		Use:   "convert <searchindex.js|index.json>",
		Short: "Re-encode an index as plain JSON or as searchindex.js",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "js" {
				return fmt.Errorf("unknown format %q (want json or js)", format)
			}
			idx, err := searchindex.Load(args[0])
			if err != nil {
				return err
			}
			if output != "" && output != "-" && format == "js" {
				return searchindex.WriteFile(output, idx)
			}
			return writeIndex(cmd.OutOrStdout(), output, idx, format, indent)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or js")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&indent, "indent", false, "indent JSON output")
	return cmd
}

func writeIndex(stdout io.Writer, path string, idx *searchindex.Index, format string, indent bool) error {
	if path == "" || path == "-" {
		return encodeIndex(stdout, idx, format, indent)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := encodeIndex(bw, idx, format, indent); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func encodeIndex(w io.Writer, idx *searchindex.Index, format string, indent bool) error {
	if format == "js" {
		if err := searchindex.Encode(w, idx); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}
	return searchindex.EncodeJSON(w, idx, indent)
}
