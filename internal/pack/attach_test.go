package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modkit-labs/modkit/internal/capability"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	capDir := t.TempDir()
	for _, variant := range []string{"expo-ts-biometrics", "expo-ts", "expo", "default"} {
		if err := os.MkdirAll(filepath.Join(capDir, "packs", variant), 0755); err != nil {
			t.Fatal(err)
		}
	}
	desc := &capability.Descriptor{ID: "auth.firebase", Dir: capDir}

	tests := []struct {
		name       string
		target     string
		language   string
		optionsKey string
		want       string
	}{
		{"options key wins", "expo", "ts", "biometrics", "expo-ts-biometrics"},
		{"target-language", "expo", "ts", "", "expo-ts"},
		{"unknown options falls through", "expo", "ts", "nope", "expo-ts"},
		{"target only", "expo", "js", "", "expo"},
		{"default fallback", "bare", "ts", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, ok := Resolve(desc, tt.target, tt.language, tt.optionsKey)
			if !ok {
				t.Fatal("Resolve ok = false")
			}
			if filepath.Base(dir) != tt.want {
				t.Errorf("resolved %q, want variant %q", filepath.Base(dir), tt.want)
			}
		})
	}
}

func TestResolve_NoPack(t *testing.T) {
	desc := &capability.Descriptor{ID: "patches.only", Dir: t.TempDir()}
	if _, ok := Resolve(desc, "expo", "ts", ""); ok {
		t.Error("Resolve ok = true for a capability without packs")
	}
}

func TestSimulate_Classification(t *testing.T) {
	packDir := t.TempDir()
	projectRoot := t.TempDir()

	writeFile(t, packDir, "src/auth/client.ts", "export {}")
	writeFile(t, packDir, "src/modkit/auth.ts", "export {}")
	writeFile(t, packDir, "app.json", `{"expo":{}}`)
	writeFile(t, packDir, "node_modules/junk/index.js", "ignored")
	writeFile(t, packDir, ".DS_Store", "ignored")

	// Managed destination exists: update. User destination exists: conflict.
	writeFile(t, projectRoot, "src/modkit/auth.ts", "old")
	writeFile(t, projectRoot, "app.json", `{"expo":{"name":"mine"}}`)

	att, err := Simulate(packDir, projectRoot, nil)
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}

	if len(att.Files) != 2 {
		t.Fatalf("Files = %+v, want create + update", att.Files)
	}
	if att.Files[0].Path != "src/auth/client.ts" || att.Files[0].Action != ActionCreate {
		t.Errorf("Files[0] = %+v", att.Files[0])
	}
	if att.Files[1].Path != "src/modkit/auth.ts" || att.Files[1].Action != ActionUpdate {
		t.Errorf("Files[1] = %+v", att.Files[1])
	}
	if len(att.Conflicts) != 1 || att.Conflicts[0].Path != "app.json" {
		t.Errorf("Conflicts = %+v, want app.json only", att.Conflicts)
	}
}

func TestSimulate_PriorOwnedIsUpdate(t *testing.T) {
	packDir := t.TempDir()
	projectRoot := t.TempDir()

	writeFile(t, packDir, "src/auth/client.ts", "export {}")
	writeFile(t, projectRoot, "src/auth/client.ts", "previous install")

	att, err := Simulate(packDir, projectRoot, map[string]bool{"src/auth/client.ts": true})
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}
	if len(att.Conflicts) != 0 {
		t.Fatalf("Conflicts = %+v, want none for reinstall over own file", att.Conflicts)
	}
	if len(att.Files) != 1 || att.Files[0].Action != ActionUpdate {
		t.Errorf("Files = %+v, want single update", att.Files)
	}
}

func TestSimulate_WritesNothing(t *testing.T) {
	packDir := t.TempDir()
	projectRoot := t.TempDir()
	writeFile(t, packDir, "src/new.ts", "export {}")

	if _, err := Simulate(packDir, projectRoot, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(projectRoot, "src")); !os.IsNotExist(err) {
		t.Error("Simulate created files in the project")
	}
}

func TestCommit(t *testing.T) {
	packDir := t.TempDir()
	projectRoot := t.TempDir()
	writeFile(t, packDir, "src/auth/client.ts", "export const x = 1")

	att, err := Simulate(packDir, projectRoot, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := Commit(att, projectRoot); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, "src/auth/client.ts"))
	if err != nil {
		t.Fatalf("committed file missing: %v", err)
	}
	if string(data) != "export const x = 1" {
		t.Errorf("content = %q", data)
	}
}

func TestCommit_RefusesConflicts(t *testing.T) {
	att := &Attachment{
		PackDir:   t.TempDir(),
		Conflicts: []Conflict{{Path: "app.json", Reason: "destination exists and is user-owned"}},
	}
	if err := Commit(att, t.TempDir()); err == nil {
		t.Fatal("Commit should refuse an attachment with conflicts")
	}
}

func TestCleanup(t *testing.T) {
	projectRoot := t.TempDir()
	writeFile(t, projectRoot, "src/auth/client.ts", "x")
	writeFile(t, projectRoot, "src/auth/hooks.ts", "x")
	writeFile(t, projectRoot, "src/keep.ts", "x")

	err := Cleanup(projectRoot, []string{"src/auth/client.ts", "src/auth/hooks.ts", "src/gone.ts"})
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(projectRoot, "src/auth")); !os.IsNotExist(err) {
		t.Error("empty src/auth directory not pruned")
	}
	if _, err := os.Stat(filepath.Join(projectRoot, "src/keep.ts")); err != nil {
		t.Error("unrelated file removed by Cleanup")
	}
	if _, err := os.Stat(filepath.Join(projectRoot, "src")); err != nil {
		t.Error("non-empty src directory pruned")
	}
}

func TestIsManaged(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".modkit/manifest.json", true},
		{"src/modkit/runtime.tsx", true},
		{"src/modkit-theme/x.ts", false},
		{"app.json", false},
		{"src/app.tsx", false},
	}
	for _, tt := range tests {
		if got := isManaged(tt.path); got != tt.want {
			t.Errorf("isManaged(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
