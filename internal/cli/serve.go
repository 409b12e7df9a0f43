package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log.Info("starting hubrelay",
				"version", opts.Build.Version,
				"commit", opts.Build.Commit,
				"build_date", opts.Build.Date,
			)

			core, err := app.OpenCore(ctx, cfg, log)
			if err != nil {
				return err
			}
			bridge, err := app.New(ctx, core, opts.Build.Version, opts.Routines...)
			if err != nil {
				core.Close() //nolint:errcheck // already failing
				return fmt.Errorf("initialising bridge: %w", err)
			}
			defer func() {
				if err := bridge.Close(); err != nil {
					log.Error("error during shutdown", "error", err)
				}
				log.Info("hubrelay stopped")
			}()

			return bridge.Run(ctx)
		},
	}
}
