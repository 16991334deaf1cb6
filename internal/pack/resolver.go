package pack

import (
	"os"
	"path/filepath"

	"github.com/modkit-labs/modkit/internal/capability"
)

// packsDirName is the directory inside a capability holding template
// variants.
const packsDirName = "packs"

// Resolve returns the concrete template directory for the given project
// flavor. Resolution order, first match wins:
//
//	packs/<target>-<language>-<optionsKey>
//	packs/<target>-<language>
//	packs/<target>
//	packs/default
//
// It is a pure function of its inputs and the capability directory
// contents; no network, no randomness. ok is false when the capability
// ships no pack for the flavor (a patches-only capability is valid).
func Resolve(desc *capability.Descriptor, target, language, optionsKey string) (dir string, ok bool) {
	base := filepath.Join(desc.Dir, packsDirName)

	candidates := make([]string, 0, 4)
	if optionsKey != "" {
		candidates = append(candidates, target+"-"+language+"-"+optionsKey)
	}
	candidates = append(candidates,
		target+"-"+language,
		target,
		"default",
	)

	for _, name := range candidates {
		p := filepath.Join(base, name)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, true
		}
	}
	return "", false
}
