package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/modulator"
	"github.com/spf13/cobra"
)

var (
	listCategory string
	listTarget   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capabilities available in the registry",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category (e.g. auth, analytics)")
	listCmd.Flags().StringVar(&listTarget, "target", "", "Filter by supported target (expo or bare)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	sources, err := capability.DefaultSources()
	if err != nil {
		return &modulator.Error{Kind: modulator.KindValidation, Err: err}
	}
	registry, err := capability.LoadRegistry(sources)
	if err != nil {
		return &modulator.Error{Kind: modulator.KindValidation, Err: err}
	}

	descriptors := registry.List()
	filtered := descriptors[:0:0]
	for _, d := range descriptors {
		if listCategory != "" && d.Category != listCategory {
			continue
		}
		if listTarget != "" && !d.SupportsTarget(listTarget) {
			continue
		}
		filtered = append(filtered, d)
	}

	if len(filtered) == 0 {
		fmt.Fprintln(out, "No capabilities found.")
		return nil
	}

	byCategory := map[string][]*capability.Descriptor{}
	for _, d := range filtered {
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	for _, cat := range categories {
		fmt.Fprintf(w, "%s\n", strings.ToUpper(cat))
		for _, d := range byCategory[cat] {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				d.ID, d.Version, strings.Join(d.Support.Targets, ","), d.Name)
		}
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d capabilities available.\n", len(filtered))
	return nil
}
