package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/server"
	"github.com/darpa-sail-on/docsearch/pkg/logger"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search API over the configured projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			slog.Info("starting docsearch",
				"port", cfg.Server.Port,
				"projects", cfg.ProjectNames(),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := server.Run(ctx, cfg); err != nil && ctx.Err() == nil {
				return err
			}
			slog.Info("docsearch stopped")
			return nil
		},
	}
}
