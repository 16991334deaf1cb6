package project

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func newManifest() *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		CLI:           CLIInfo{Version: "0.4.0"},
		Identity:      Identity{Name: "Demo App", Slug: "demo-app"},
		Project: Settings{
			Target:         "expo",
			Language:       "ts",
			PackageManager: "npm",
		},
		Plugins: map[string]*Record{},
	}
}

func newRecord(id string) *Record {
	return &Record{
		ID:          id,
		Version:     "1.0.0",
		InstalledAt: time.Now().UTC(),
	}
}

func TestStore_InitAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	if store.Exists() {
		t.Fatal("Exists = true before Init")
	}
	if err := store.Init(newManifest()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if !store.Exists() {
		t.Fatal("Exists = false after Init")
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Identity.Name != "Demo App" {
		t.Errorf("Identity.Name = %q, want %q", m.Identity.Name, "Demo App")
	}
	if m.Project.Target != "expo" {
		t.Errorf("Project.Target = %q, want %q", m.Project.Target, "expo")
	}
	if m.CLI.CreatedAt.IsZero() {
		t.Error("CLI.CreatedAt not set by Init")
	}
}

func TestStore_InitRefusesExisting(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Init(newManifest()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := store.Init(newManifest()); err == nil {
		t.Fatal("second Init should fail, got nil")
	}
}

func TestStore_AddRemoveCapability(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Init(newManifest()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	rec := newRecord("auth.firebase")
	rec.Permissions = []PermissionClaim{
		{Platform: "ios", Key: "NSCameraUsageDescription", Reason: "QR login"},
	}
	if err := store.AddCapability(m, rec); err != nil {
		t.Fatalf("AddCapability error: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reloaded.Installed("auth.firebase") {
		t.Fatal("auth.firebase not installed after AddCapability")
	}
	if len(reloaded.Permissions) != 1 {
		t.Fatalf("Permissions len = %d, want 1", len(reloaded.Permissions))
	}
	if got := reloaded.Permissions[0].Sources; len(got) != 1 || got[0] != "auth.firebase" {
		t.Errorf("Permission sources = %v, want [auth.firebase]", got)
	}

	if err := store.RemoveCapability(reloaded, "auth.firebase"); err != nil {
		t.Fatalf("RemoveCapability error: %v", err)
	}
	final, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if final.Installed("auth.firebase") {
		t.Error("auth.firebase still installed after RemoveCapability")
	}
	if len(final.Permissions) != 0 {
		t.Errorf("Permissions = %v, want empty after removal", final.Permissions)
	}
}

func TestStore_PermissionAggregation(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Init(newManifest()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	m, _ := store.Load()

	recA := newRecord("auth.firebase")
	recA.Permissions = []PermissionClaim{{Platform: "ios", Key: "NSFaceIDUsageDescription"}}
	recB := newRecord("auth.biometrics")
	recB.Permissions = []PermissionClaim{
		{Platform: "ios", Key: "NSFaceIDUsageDescription"},
		{Platform: "android", Key: "USE_BIOMETRIC"},
	}
	if err := store.AddCapability(m, recA); err != nil {
		t.Fatal(err)
	}
	if err := store.AddCapability(m, recB); err != nil {
		t.Fatal(err)
	}

	reloaded, _ := store.Load()
	if len(reloaded.Permissions) != 2 {
		t.Fatalf("Permissions len = %d, want 2 (shared key merged)", len(reloaded.Permissions))
	}
	// Sorted by (platform, key): android first.
	if reloaded.Permissions[0].Platform != "android" {
		t.Errorf("Permissions[0].Platform = %q, want android", reloaded.Permissions[0].Platform)
	}
	shared := reloaded.Permissions[1]
	if len(shared.Sources) != 2 {
		t.Errorf("shared permission Sources = %v, want both capability ids", shared.Sources)
	}
}

func TestStore_PreservesUnknownFields(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Init(newManifest()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	// Simulate a newer CLI having written an extra top-level field.
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["futureFeature"] = json.RawMessage(`{"enabled":true}`)
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), out, 0644); err != nil {
		t.Fatal(err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := store.AddCapability(m, newRecord("auth.firebase")); err != nil {
		t.Fatalf("AddCapability error: %v", err)
	}

	rewritten, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(rewritten), "futureFeature") {
		t.Error("unknown top-level field dropped on rewrite")
	}
	if !strings.Contains(string(rewritten), "auth.firebase") {
		t.Error("new capability record missing from rewrite")
	}
}

func TestManifest_InstalledIDs(t *testing.T) {
	m := newManifest()
	m.Plugins["b.two"] = newRecord("b.two")
	m.Plugins["a.one"] = newRecord("a.one")

	ids := m.InstalledIDs()
	if len(ids) != 2 {
		t.Fatalf("InstalledIDs len = %d, want 2", len(ids))
	}
	if !m.Installed("a.one") || m.Installed("c.three") {
		t.Error("Installed lookups wrong")
	}
}
