package wiring

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// renderImports renders the import block: one import statement per module,
// modules sorted, exports within a module sorted and deduplicated. The
// returned block ends with a newline so the end marker stays on its own
// line; an empty entry list renders an empty block.
func renderImports(entries []Entry) string {
	byModule := make(map[string][]string)
	for _, e := range entries {
		if !containsString(byModule[e.Module], e.Export) {
			byModule[e.Module] = append(byModule[e.Module], e.Export)
		}
	}

	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var b strings.Builder
	for _, m := range modules {
		exports := byModule[m]
		sort.Strings(exports)
		fmt.Fprintf(&b, "import { %s } from %q;\n", strings.Join(exports, ", "), m)
	}
	return b.String()
}

// renderContributions renders the ordered contribution array. Entry order
// is already final when this is called.
func renderContributions(entries []Entry) (string, error) {
	var b strings.Builder
	b.WriteString("export const contributions = [\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  { kind: %q, order: %d, owner: %q, use: %s", e.Kind, e.Order, e.Owner, e.Export)
		if len(e.Config) > 0 {
			cfg, err := json.Marshal(e.Config)
			if err != nil {
				return "", fmt.Errorf("serializing config for %s: %w", e.Owner, err)
			}
			fmt.Fprintf(&b, ", config: %s", cfg)
		}
		b.WriteString(" },\n")
	}
	b.WriteString("];\n")
	return b.String(), nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
