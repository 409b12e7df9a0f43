// Package cli implements the hubrelay command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// defaultConfigPath is used when neither --config nor HUBRELAY_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// BuildInfo is stamped at build time via ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	Build    BuildInfo
	Routines []automation.Routine
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. routines are installed into
// the production registry by serve and listed by triggers.
func NewRootCommand(build BuildInfo, routines []automation.Routine) *cobra.Command {
	opts := &RootOptions{Build: build, Routines: routines}

	cmd := &cobra.Command{
		Use:   "hubrelay",
		Short: "hubrelay - home-automation hub event bridge",
		Long: `hubrelay keeps a streaming session open to a home-automation hub,
mirrors entity state into Redis, and runs registered triggers on state
changes, schedules, solar events, and lifecycle events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"config file (default $HUBRELAY_CONFIG or "+defaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewTriggersCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// configPath resolves the config file: flag, then HUBRELAY_CONFIG, then
// the default.
func (o *RootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv("HUBRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads configuration and builds the configured logger.
func (o *RootOptions) loadConfig() (*config.Config, *logging.Logger, error) {
	path := o.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, o.Build.Version)
	log.Debug("configuration loaded", "path", path)
	return cfg, log, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
