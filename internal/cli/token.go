package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/auth"
)

// NewTokenCommand creates the token command, which signs an operator
// token for the debug API with the configured secret.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the debug API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return fmt.Errorf("api.jwt_secret is not set; the debug API is unauthenticated")
			}
			if ttl <= 0 {
				ttl = cfg.GetTokenTTL()
			}
			now := time.Now()
			token, err := auth.IssueToken(subject, auth.ScopeRead, cfg.API.JWTSecret, ttl, now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(map[string]any{
					"token":      token,
					"subject":    subject,
					"expires_at": now.Add(ttl).UTC(),
				})
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default api.token_ttl)")
	return cmd
}
