package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/app"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull every hub entity into the cache once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			core, err := app.OpenCore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer core.Close()

			n, err := core.Sync(ctx)
			if err != nil {
				return fmt.Errorf("syncing state: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(map[string]int{"entities": n})
			}
			fmt.Fprintf(out, "synchronised %d entities\n", n)
			return nil
		},
	}
}
