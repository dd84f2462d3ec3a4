package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <searchindex.js>...",
		Short: "Check that index files decode and are internally consistent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				if _, err := searchindex.Load(path); err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d index files invalid", failed, len(args))
			}
			return nil
		},
	}
}
