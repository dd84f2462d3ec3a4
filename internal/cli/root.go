// Package cli implements the docsearch command line: the server entry point
// and offline tools for inspecting, converting and building searchindex.js
// files.
package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/pkg/config"
	"github.com/darpa-sail-on/docsearch/pkg/logger"
)

type options struct {
	configPath string
	logLevel   string
}

// NewRootCommand assembles the docsearch command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "docsearch",
		Short:         "Search service and tooling for documentation search indices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("DS_CONFIG"), "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for offline commands (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newQueryCommand(opts),
		newInspectCommand(),
		newValidateCommand(),
		newConvertCommand(),
		newBuildCommand(),
		newBuildsCommand(opts),
		newLoadtestCommand(),
		newPushCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
