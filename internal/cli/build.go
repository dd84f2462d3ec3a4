package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/indexer"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func newBuildCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "build <source-dir>",
		Short: "Build a searchindex.js from .rst, .md and .txt sources",
		Long: `Walks source-dir and indexes every page. The page title is its first
non-empty line; Python object directives are added to the object
inventory. The result replaces the output file atomically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			idx, err := indexer.BuildDir(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := searchindex.WriteFile(output, idx); err != nil {
				return err
			}
			st := idx.Stats()
			slog.Debug("index built", "source", args[0], "output", output, "duration", time.Since(start))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d documents, %d objects, %d terms\n",
				output, st.Documents, st.Objects, st.Terms)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "searchindex.js", "output file")
	return cmd
}
