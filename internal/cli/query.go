package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

// staticSource serves one index loaded from disk.
type staticSource struct{ idx *searchindex.Index }

func (s staticSource) Current() *searchindex.Index { return s.idx }

func newQueryCommand(opts *options) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		project string
	)
	cmd := &cobra.Command{
		Use:   "query [flags] <searchindex.js> [--] <terms...>",
		Short: "Run a search against an index file",
		Long: `Run a search against an index file.

A term prefixed with "-" excludes pages containing it. Put such terms after
a "--" separator so they are not read as flags.`,
		Example: `  docsearch query _build/html/searchindex.js checkpoint
  docsearch query --limit 5 searchindex.js -- save attributes -checkpoint`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := searchindex.Load(args[0])
			if err != nil {
				return err
			}
			scorer := ranker.DefaultScorer()
			if opts.configPath != "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				scorer = ranker.FromConfig(cfg.Search.Scorer)
			}
			if project == "" {
				project = args[0]
			}

			plan := parser.Parse(strings.Join(args[1:], " "))
			res, err := executor.New(project, staticSource{idx}, scorer).Execute(cmd.Context(), plan, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintf(out, "%d hits for %q\n", res.TotalHits, res.Query)
			if len(res.Results) == 0 {
				return nil
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "SCORE\tTITLE\tLOCATION\tKIND")
			for _, r := range res.Results {
				loc := r.FileName
				if r.Anchor != "" {
					loc += "#" + r.Anchor
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Score, r.Title, loc, r.Kind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().StringVar(&project, "project", "", "project name to report in results (defaults to the file path)")
	return cmd
}
