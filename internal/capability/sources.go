package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modkit-labs/modkit/internal/branding"
	"github.com/modkit-labs/modkit/internal/config"
)

// DefaultSources constructs the descriptor source list from the current
// environment.
//
// Resolution order:
//  1. MODKIT_HOME/registry (development / platform-team use)
//  2. Binary-relative ../registry (bundled releases)
//  3. ~/.modkit/registry (end-user installs)
//  4. ~/.modkit/extensions/*/ (user-local extension registries)
func DefaultSources() ([]Source, error) {
	var sources []Source

	// 1. Check <PREFIX>_HOME for development use.
	if home := os.Getenv(branding.EnvVar("HOME")); home != "" {
		registryPath := filepath.Join(home, "registry")
		if info, err := os.Stat(registryPath); err == nil && info.IsDir() {
			sources = append(sources, Source{Name: "registry", BasePath: registryPath})
		}
		if len(sources) > 0 {
			return sources, nil
		}
	}

	// 2. Try to find the registry relative to the executable.
	exe, err := os.Executable()
	if err == nil {
		registryPath := filepath.Join(filepath.Dir(exe), "..", "registry")
		if info, err := os.Stat(registryPath); err == nil && info.IsDir() {
			sources = append(sources, Source{Name: "registry", BasePath: registryPath})
		}
	}

	if len(sources) > 0 {
		return sources, nil
	}

	// 3. End-user install: ~/.modkit/registry.
	registryDir := config.RegistryDir()
	if info, err := os.Stat(registryDir); err == nil && info.IsDir() {
		sources = append(sources, Source{Name: "registry", BasePath: registryDir})
	}

	// 4. User-local extensions: ~/.modkit/extensions/*/.
	extRoot := config.ExtensionsDir()
	if info, err := os.Stat(extRoot); err == nil && info.IsDir() {
		appendExtensionSources(&sources, extRoot)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no capability registry found; expected one at %s", registryDir)
	}

	return sources, nil
}

// appendExtensionSources scans a directory for subdirectories and appends
// each as a registry source.
func appendExtensionSources(sources *[]Source, extDir string) {
	entries, err := os.ReadDir(extDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			*sources = append(*sources, Source{
				Name:     entry.Name(),
				BasePath: filepath.Join(extDir, entry.Name()),
			})
		}
	}
}
