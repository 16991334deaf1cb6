//go:build integration

package integration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/project"
)

// testEnv holds paths to isolated test directories.
type testEnv struct {
	HomeDir    string // MODKIT_HOME — contains registry/
	ProjectDir string // the project under management
}

// setupTestEnv creates isolated temp directories and points MODKIT_HOME at
// a sandbox registry so nothing touches the real user environment.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		HomeDir:    t.TempDir(),
		ProjectDir: t.TempDir(),
	}
	t.Setenv("MODKIT_HOME", env.HomeDir)

	if err := os.MkdirAll(filepath.Join(env.HomeDir, "registry"), 0755); err != nil {
		t.Fatalf("creating registry dir: %v", err)
	}
	return env
}

// setupRegistry populates the sandbox registry with a small capability set
// covering packs, wiring, patches, and a slot conflict pair.
func setupRegistry(t *testing.T, env *testEnv) {
	t.Helper()
	reg := filepath.Join(env.HomeDir, "registry")

	writeFile(t, filepath.Join(reg, "auth/firebase/capability.yaml"), `id: auth.firebase
name: Firebase Auth
category: auth
version: 1.2.0
support:
  targets: [expo]
conflicts:
  - slot: auth-provider
    mode: single
contributions:
  - kind: provider
    order: 10
    symbol:
      module: "@modkit/auth-firebase"
      export: AuthProvider
patches:
  - id: app-json-scheme
    op: keys.ensure
    file: app.json
    keys:
      expo.scheme: demo
`)
	writeFile(t, filepath.Join(reg, "auth/firebase/packs/default/src/auth/client.ts"),
		"export const firebaseAuth = {};\n")

	writeFile(t, filepath.Join(reg, "auth/auth0/capability.yaml"), `id: auth.auth0
name: Auth0
category: auth
version: 2.0.0
support:
  targets: [expo]
conflicts:
  - slot: auth-provider
    mode: single
`)

	writeFile(t, filepath.Join(reg, "analytics/segment/capability.yaml"), `id: analytics.segment
name: Segment Analytics
category: analytics
version: 0.9.0
support:
  targets: [expo]
contributions:
  - kind: init
    order: 5
    symbol:
      module: "@modkit/analytics-segment"
      export: initSegment
`)
}

// setupProject writes the scaffold a real init would have produced.
func setupProject(t *testing.T, env *testEnv) *project.Store {
	t.Helper()

	writeFile(t, filepath.Join(env.ProjectDir, "src/modkit/runtime.tsx"), `// Runtime composition file.

// modkit:imports:start
// modkit:imports:end

// modkit:contributions:start
export const contributions = [
];
// modkit:contributions:end
`)
	writeFile(t, filepath.Join(env.ProjectDir, "app.json"), `{"expo":{"name":"demo"}}`)

	store := project.NewStore(env.ProjectDir)
	err := store.Init(&project.Manifest{
		SchemaVersion: project.SchemaVersion,
		CLI:           project.CLIInfo{Version: "0.4.0"},
		Identity:      project.Identity{Name: "Demo"},
		Project:       project.Settings{Target: "expo", Language: "ts", PackageManager: "npm"},
		Plugins:       map[string]*project.Record{},
	})
	if err != nil {
		t.Fatalf("initializing project manifest: %v", err)
	}
	return store
}

func loadRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	sources, err := capability.DefaultSources()
	if err != nil {
		t.Fatalf("DefaultSources: %v", err)
	}
	reg, err := capability.LoadRegistry(sources)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	return reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file %s to exist: %v", path, err)
	}
}

func assertFileMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file %s to be absent", path)
	}
}
