package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/store"
	"github.com/darpa-sail-on/docsearch/pkg/postgres"
)

func newBuildsCommand(opts *options) *cobra.Command {
	var (
		project string
		limit   int
		export  string
		output  string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "List or export index builds recorded by the server",
		Example: `  docsearch builds --config docsearch.yaml --project sail-on
  docsearch builds --project sail-on --export 3f2a... -o restored.js --format js`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "js" {
				return fmt.Errorf("unknown format %q (want json or js)", format)
			}
			if export != "" && project == "" {
				return fmt.Errorf("--export needs --project")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			pg, err := postgres.New(cmd.Context(), cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			defer pg.Close()
			history := store.NewHistory(pg)

			if export != "" {
				idx, err := history.Load(cmd.Context(), project, export)
				if err != nil {
					return err
				}
				return writeIndex(cmd.OutOrStdout(), output, idx, format, false)
			}

			builds, err := history.List(cmd.Context(), project, limit)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PROJECT\tCHECKSUM\tDOCS\tOBJECTS\tTERMS\tLOADED")
			for _, b := range builds {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					b.Project, shortChecksum(b.Checksum), b.Stats.Documents, b.Stats.Objects,
					b.Stats.Terms, b.LoadedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "only show builds of this project")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of builds to list")
	cmd.Flags().StringVar(&export, "export", "", "write the build with this checksum instead of listing")
	cmd.Flags().StringVarP(&output, "output", "o", "", "export destination (default stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "js", "export format: json or js")
	return cmd
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
