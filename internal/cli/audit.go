package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/audit"
	"github.com/nerrad567/hubrelay/internal/infrastructure/database"
	"github.com/nerrad567/hubrelay/migrations"
)

// NewAuditCommand creates the audit command. It reads the activity log
// straight from the database, so the service need not be running.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	var filter audit.Filter

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			if _, err := db.Migrate(ctx, migrations.FS); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			page, err := audit.NewSQLiteRepository(db).List(ctx, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tSUBJECT\tSOURCE")
			for _, l := range page.Logs {
				subject := l.Subject
				if subject == "" {
					subject = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.CreatedAt.Format(time.RFC3339), l.Action, subject, l.Source)
			}
			fmt.Fprintf(tw, "\n%d of %d entries\n", len(page.Logs), page.Total)
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.Action, "action", "", "only show this action")
	cmd.Flags().StringVar(&filter.Subject, "subject", "", "only show this subject")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries (max 200)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "entries to skip")
	return cmd
}
