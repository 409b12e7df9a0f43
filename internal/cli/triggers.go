package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/hubrelay/internal/api"
	"github.com/nerrad567/hubrelay/internal/automation"
)

// NewTriggersCommand creates the triggers command. It installs the
// routines into a scratch registry; nothing is connected.
func NewTriggersCommand(opts *RootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "List registered triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if category != "" && !knownCategory(automation.Category(category)) {
				return fmt.Errorf("unknown trigger category %q", category)
			}
			reg := automation.NewRegistry()
			if err := automation.Install(reg, automation.Services{}, opts.Routines...); err != nil {
				return err
			}
			list := api.ListTriggers(reg, automation.Category(category))

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tKEY\tHANDLER\tFILTERS")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Category, t.Key, t.Name, formatFilters(t.Filters))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only list this trigger category")
	return cmd
}

func knownCategory(c automation.Category) bool {
	for _, known := range automation.AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

func formatFilters(f map[string]any) string {
	if len(f) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, f[k])
	}
	return strings.Join(parts, " ")
}
