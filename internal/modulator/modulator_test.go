package modulator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/project"
)

const testComposition = `// Runtime composition file.

// modkit:imports:start
// modkit:imports:end

export type Contribution = {
  kind: "provider" | "wrapper" | "init" | "binding";
  order: number;
  owner: string;
  use: unknown;
  config?: Record<string, unknown>;
};

// modkit:contributions:start
export const contributions = [
];
// modkit:contributions:end
`

const firebaseYAML = `id: auth.firebase
name: Firebase Auth
category: auth
version: 1.2.0
support:
  targets: [expo, bare]
  languages: [ts]
conflicts:
  - slot: auth-provider
    mode: single
permissions:
  - platform: ios
    key: NSFaceIDUsageDescription
    reason: Biometric unlock
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
      expo.ios.usesAppleSignIn: true
`

const auth0YAML = `id: auth.auth0
name: Auth0
category: auth
version: 2.0.0
support:
  targets: [expo]
conflicts:
  - slot: auth-provider
    mode: single
contributions:
  - kind: provider
    order: 10
    symbol:
      module: "@modkit/auth-auth0"
      export: Auth0Provider
`

const segmentYAML = `id: analytics.segment
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
`

const bareOnlyYAML = `id: push.native
name: Native Push
category: push
version: 1.0.0
support:
  targets: [bare]
`

// writeTree writes slash-relative files under base.
func writeTree(t *testing.T, base string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(base, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// newFixture builds a registry with the standard test capabilities and an
// initialized expo/ts project.
func newFixture(t *testing.T) (*Modulator, string) {
	t.Helper()

	regRoot := t.TempDir()
	writeTree(t, regRoot, map[string]string{
		"auth/firebase/capability.yaml":                         firebaseYAML,
		"auth/firebase/packs/default/src/auth/client.ts":        "export const client = {};\n",
		"auth/firebase/packs/default/src/modkit/auth-config.ts": "export const config = {};\n",
		"auth/auth0/capability.yaml":                            auth0YAML,
		"auth/auth0/packs/default/src/auth0/client.ts":          "export const client = {};\n",
		"analytics/segment/capability.yaml":                     segmentYAML,
		"push/native/capability.yaml":                           bareOnlyYAML,
	})
	reg, err := capability.LoadRegistry([]capability.Source{{Name: "test", BasePath: regRoot}})
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/modkit/runtime.tsx": testComposition,
		"app.json":               `{"expo":{"name":"demo","version":"1.0.0"}}`,
	})

	store := project.NewStore(root)
	err = store.Init(&project.Manifest{
		SchemaVersion: project.SchemaVersion,
		CLI:           project.CLIInfo{Version: "0.4.0"},
		Identity:      project.Identity{Name: "Demo"},
		Project:       project.Settings{Target: "expo", Language: "ts", PackageManager: "npm"},
		Plugins:       map[string]*project.Record{},
	})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}

	return New(reg, store, "0.4.0"), root
}

func mustInstall(t *testing.T, m *Modulator, id string) *Result {
	t.Helper()
	plan, err := m.PlanInstall(id, "")
	if err != nil {
		t.Fatalf("PlanInstall(%s) error: %v", id, err)
	}
	result, err := m.Apply(context.Background(), plan, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply(%s) error: %v", id, err)
	}
	if !result.Success {
		t.Fatalf("Apply(%s) failed: %+v", id, result.Phases)
	}
	return result
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func fileExists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func TestPlanInstall_Deterministic(t *testing.T) {
	m, _ := newFixture(t)

	first, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatalf("PlanInstall error: %v", err)
	}
	second, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatalf("PlanInstall error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("identical inputs produced different plans:\n%s\n%s", a, b)
	}
}

func TestInstall_FullPipeline(t *testing.T) {
	m, root := newFixture(t)
	result := mustInstall(t, m, "auth.firebase")

	if len(result.Phases) != len(installPhases) {
		t.Errorf("Phases = %d, want all %d", len(result.Phases), len(installPhases))
	}

	// Pack attached.
	if !fileExists(root, "src/auth/client.ts") || !fileExists(root, "src/modkit/auth-config.ts") {
		t.Error("pack files not attached")
	}

	// Wiring rendered.
	composition := readFile(t, root, "src/modkit/runtime.tsx")
	if !strings.Contains(composition, `import { AuthProvider } from "@modkit/auth-firebase";`) {
		t.Errorf("composition not wired:\n%s", composition)
	}

	// Patch applied without disturbing existing keys.
	var appJSON map[string]any
	if err := json.Unmarshal([]byte(readFile(t, root, "app.json")), &appJSON); err != nil {
		t.Fatal(err)
	}
	expo := appJSON["expo"].(map[string]any)
	if expo["scheme"] != "demo" || expo["name"] != "demo" {
		t.Errorf("app.json patch wrong: %v", expo)
	}

	// Manifest record complete.
	manifest, err := m.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec := manifest.Plugins["auth.firebase"]
	if rec == nil {
		t.Fatal("no manifest record")
	}
	if rec.Version != "1.2.0" {
		t.Errorf("record Version = %q", rec.Version)
	}
	if len(rec.OwnedPaths) != 2 {
		t.Errorf("OwnedPaths = %v, want both pack files", rec.OwnedPaths)
	}
	if len(rec.ModifiedFiles) != 1 || rec.ModifiedFiles[0] != "app.json" {
		t.Errorf("ModifiedFiles = %v, want [app.json]", rec.ModifiedFiles)
	}
	if len(rec.Contributions) != 1 || rec.Contributions[0].Export != "AuthProvider" {
		t.Errorf("Contributions = %+v", rec.Contributions)
	}
	if len(rec.Slots) != 1 || rec.Slots[0].Slot != "auth-provider" {
		t.Errorf("Slots = %+v", rec.Slots)
	}
	if len(manifest.Permissions) != 1 || manifest.Permissions[0].Key != "NSFaceIDUsageDescription" {
		t.Errorf("aggregated Permissions = %+v", manifest.Permissions)
	}
}

func TestInstall_Idempotent(t *testing.T) {
	m, root := newFixture(t)
	mustInstall(t, m, "auth.firebase")

	compositionBefore := readFile(t, root, "src/modkit/runtime.tsx")
	appBefore := readFile(t, root, "app.json")

	result := mustInstall(t, m, "auth.firebase")

	if readFile(t, root, "src/modkit/runtime.tsx") != compositionBefore {
		t.Error("reinstall changed the composition file")
	}
	if readFile(t, root, "app.json") != appBefore {
		t.Error("reinstall changed app.json")
	}

	for _, phase := range result.Phases {
		if !phase.Success {
			t.Errorf("reinstall phase %s failed: %s", phase.Phase, phase.Detail)
		}
	}
}

func TestInstall_ConflictGate(t *testing.T) {
	m, root := newFixture(t)
	mustInstall(t, m, "auth.firebase")

	plan, err := m.PlanInstall("auth.auth0", "")
	if err != nil {
		t.Fatalf("PlanInstall error: %v", err)
	}
	if plan.Allowed {
		t.Fatal("Allowed = true, want conflict")
	}
	if len(plan.ConflictHits) != 1 {
		t.Fatalf("ConflictHits = %+v, want exactly one", plan.ConflictHits)
	}
	hit := plan.ConflictHits[0]
	if hit.Slot != "auth-provider" || hit.InstalledID != "auth.firebase" || hit.IncomingID != "auth.auth0" {
		t.Errorf("hit = %+v", hit)
	}

	result, err := m.Apply(context.Background(), plan, ApplyOptions{})
	if err == nil {
		t.Fatal("Apply without force should fail")
	}
	if KindOf(err) != KindConflict {
		t.Errorf("KindOf = %v, want KindConflict", KindOf(err))
	}
	if result.FailureKind != KindConflict {
		t.Errorf("FailureKind = %v, want KindConflict", result.FailureKind)
	}
	if len(result.Phases) != 0 {
		t.Errorf("Phases = %+v, want none executed for a rejected plan", result.Phases)
	}

	// Zero mutations.
	if fileExists(root, "src/auth0/client.ts") {
		t.Error("rejected install attached pack files")
	}
	manifest, _ := m.Store.Load()
	if manifest.Installed("auth.auth0") {
		t.Error("rejected install recorded in manifest")
	}
}

func TestApply_ConflictGateSeesLatestInstall(t *testing.T) {
	m, root := newFixture(t)

	// Both plans are computed against the same empty project, then applied
	// one after the other, the way two interleaved invocations would.
	planFirebase, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatalf("PlanInstall(auth.firebase) error: %v", err)
	}
	planAuth0, err := m.PlanInstall("auth.auth0", "")
	if err != nil {
		t.Fatalf("PlanInstall(auth.auth0) error: %v", err)
	}
	if !planAuth0.Allowed {
		t.Fatal("auth0 plan against an empty project should be allowed")
	}

	if _, err := m.Apply(context.Background(), planFirebase, ApplyOptions{}); err != nil {
		t.Fatalf("Apply(auth.firebase) error: %v", err)
	}

	result, err := m.Apply(context.Background(), planAuth0, ApplyOptions{})
	if err == nil {
		t.Fatal("applying the earlier auth0 plan should fail once the slot is taken")
	}
	if KindOf(err) != KindConflict {
		t.Errorf("KindOf = %v, want KindConflict", KindOf(err))
	}
	if result.FailureKind != KindConflict {
		t.Errorf("FailureKind = %v, want KindConflict", result.FailureKind)
	}
	if len(result.Phases) != 0 {
		t.Errorf("Phases = %+v, want none executed", result.Phases)
	}

	if fileExists(root, "src/auth0/client.ts") {
		t.Error("rejected install attached pack files")
	}
	manifest, _ := m.Store.Load()
	if manifest.Installed("auth.auth0") {
		t.Error("rejected install recorded in manifest")
	}
	composition := readFile(t, root, "src/modkit/runtime.tsx")
	if !strings.Contains(composition, "AuthProvider") {
		t.Error("first install's wiring lost to the rejected plan")
	}
}

func TestApply_ForcedPlanKeepsEarlierWiring(t *testing.T) {
	m, root := newFixture(t)

	planFirebase, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatal(err)
	}
	planAuth0, err := m.PlanInstall("auth.auth0", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Apply(context.Background(), planFirebase, ApplyOptions{}); err != nil {
		t.Fatalf("Apply(auth.firebase) error: %v", err)
	}
	result, err := m.Apply(context.Background(), planAuth0, ApplyOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Apply error: %v", err)
	}
	if !result.Success {
		t.Fatalf("forced Apply failed: %+v", result.Phases)
	}

	// The forced plan predates the firebase install; its wiring must still
	// include both capabilities after apply.
	composition := readFile(t, root, "src/modkit/runtime.tsx")
	if !strings.Contains(composition, "AuthProvider") {
		t.Error("earlier capability un-wired by the forced install")
	}
	if !strings.Contains(composition, "Auth0Provider") {
		t.Error("forced capability not wired")
	}
}

func TestRemove_AlreadyRemovedIsClean(t *testing.T) {
	m, root := newFixture(t)
	mustInstall(t, m, "auth.firebase")

	first, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Apply(context.Background(), first, ApplyOptions{}); err != nil {
		t.Fatalf("Apply(first remove) error: %v", err)
	}
	appAfter := readFile(t, root, "app.json")

	result, err := m.Apply(context.Background(), second, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply(second remove) error: %v", err)
	}
	if !result.Success {
		t.Error("removing what is already gone should succeed")
	}
	if len(result.Phases) != 0 {
		t.Errorf("executed phases = %+v, want none", result.Phases)
	}
	if readFile(t, root, "app.json") != appAfter {
		t.Error("second removal changed the project")
	}
}

func TestInstall_ForceKeepsBothOccupants(t *testing.T) {
	m, _ := newFixture(t)
	mustInstall(t, m, "auth.firebase")

	plan, err := m.PlanInstall("auth.auth0", "")
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.Apply(context.Background(), plan, ApplyOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Apply error: %v", err)
	}
	if !result.Success {
		t.Fatalf("forced Apply failed: %+v", result.Phases)
	}
	if len(result.Warnings) == 0 {
		t.Error("forced install recorded no warning about the occupied slot")
	}

	manifest, _ := m.Store.Load()
	if !manifest.Installed("auth.firebase") || !manifest.Installed("auth.auth0") {
		t.Error("forced install should leave both capabilities installed")
	}
}

func TestRemove_RoundTrip(t *testing.T) {
	m, root := newFixture(t)

	appBefore := readFile(t, root, "app.json")
	compositionBefore := readFile(t, root, "src/modkit/runtime.tsx")

	mustInstall(t, m, "auth.firebase")

	plan, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatalf("PlanRemove error: %v", err)
	}
	if plan.NoOp {
		t.Fatal("NoOp = true for an installed capability")
	}
	result, err := m.Apply(context.Background(), plan, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !result.Success {
		t.Fatalf("remove failed: %+v", result.Phases)
	}

	// Owned files deleted, empty directories pruned.
	if fileExists(root, "src/auth/client.ts") {
		t.Error("owned pack file survived removal")
	}
	if fileExists(root, "src/auth") {
		t.Error("empty owned directory not pruned")
	}

	// Modified file restored byte for byte.
	if got := readFile(t, root, "app.json"); got != appBefore {
		t.Errorf("app.json not restored:\ngot  %q\nwant %q", got, appBefore)
	}

	// Composition back to baseline.
	if got := readFile(t, root, "src/modkit/runtime.tsx"); got != compositionBefore {
		t.Errorf("composition not restored:\n%s", got)
	}

	manifest, _ := m.Store.Load()
	if manifest.Installed("auth.firebase") {
		t.Error("record not removed from manifest")
	}
	if len(manifest.Permissions) != 0 {
		t.Errorf("Permissions = %+v, want empty", manifest.Permissions)
	}
}

func TestRemove_KeepsOtherCapabilities(t *testing.T) {
	m, root := newFixture(t)
	mustInstall(t, m, "auth.firebase")
	mustInstall(t, m, "analytics.segment")

	plan, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(context.Background(), plan, ApplyOptions{}); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	composition := readFile(t, root, "src/modkit/runtime.tsx")
	if strings.Contains(composition, "AuthProvider") {
		t.Error("removed capability still wired")
	}
	if !strings.Contains(composition, "initSegment") {
		t.Error("surviving capability lost its wiring")
	}
}

func TestRemove_NotInstalledIsNoOp(t *testing.T) {
	m, root := newFixture(t)

	sentinel := readFile(t, root, "app.json")

	plan, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatalf("PlanRemove error: %v", err)
	}
	if !plan.NoOp {
		t.Fatal("NoOp = false for an uninstalled capability")
	}
	if len(plan.Phases) != 0 {
		t.Errorf("Phases = %v, want none", plan.Phases)
	}

	result, err := m.Apply(context.Background(), plan, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !result.Success {
		t.Error("NoOp removal should succeed")
	}
	if len(result.Phases) != 0 {
		t.Errorf("executed phases = %+v, want none", result.Phases)
	}
	if readFile(t, root, "app.json") != sentinel {
		t.Error("NoOp removal changed the project")
	}
}

func TestUserZoneUntouched(t *testing.T) {
	m, root := newFixture(t)

	writeTree(t, root, map[string]string{
		"src/screens/Home.tsx": "export const Home = () => null;\n",
		"README.md":            "# my project\n",
	})
	home := readFile(t, root, "src/screens/Home.tsx")
	readme := readFile(t, root, "README.md")

	mustInstall(t, m, "auth.firebase")

	plan, err := m.PlanRemove("auth.firebase")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(context.Background(), plan, ApplyOptions{}); err != nil {
		t.Fatal(err)
	}

	if readFile(t, root, "src/screens/Home.tsx") != home {
		t.Error("user source file modified")
	}
	if readFile(t, root, "README.md") != readme {
		t.Error("user README modified")
	}
}

func TestPlanInstall_IncompatibleTarget(t *testing.T) {
	m, _ := newFixture(t)

	_, err := m.PlanInstall("push.native", "")
	if err == nil {
		t.Fatal("expected incompatibility error")
	}
	if KindOf(err) != KindIncompatibility {
		t.Errorf("KindOf = %v, want KindIncompatibility", KindOf(err))
	}
}

func TestPlanInstall_UnknownCapability(t *testing.T) {
	m, _ := newFixture(t)

	_, err := m.PlanInstall("no.such", "")
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf = %v, want KindValidation", KindOf(err))
	}
}

func TestApply_AttachmentConflictStopsBeforeWrite(t *testing.T) {
	m, root := newFixture(t)

	// User already has a file where the pack wants to write.
	writeTree(t, root, map[string]string{
		"src/auth/client.ts": "// my own auth client\n",
	})
	userContent := readFile(t, root, "src/auth/client.ts")

	plan, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatalf("PlanInstall error: %v", err)
	}
	if plan.Attachment == nil || len(plan.Attachment.Conflicts) != 1 {
		t.Fatalf("Attachment conflicts = %+v, want one", plan.Attachment)
	}

	result, err := m.Apply(context.Background(), plan, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply returned fatal error: %v", err)
	}
	if result.Success {
		t.Fatal("Apply succeeded despite attachment conflict")
	}
	if result.FailureKind != KindAttachmentConflict {
		t.Errorf("FailureKind = %v, want KindAttachmentConflict", result.FailureKind)
	}
	if readFile(t, root, "src/auth/client.ts") != userContent {
		t.Error("user-owned file overwritten")
	}
	manifest, _ := m.Store.Load()
	if manifest.Installed("auth.firebase") {
		t.Error("failed install recorded in manifest")
	}
}

func TestReinstall_OverOwnFilesNoConflict(t *testing.T) {
	m, _ := newFixture(t)
	mustInstall(t, m, "auth.firebase")

	plan, err := m.PlanInstall("auth.firebase", "")
	if err != nil {
		t.Fatalf("PlanInstall error: %v", err)
	}
	if !plan.Allowed {
		t.Error("reinstall blocked by its own slot claim")
	}
	if plan.Attachment == nil {
		t.Fatal("no attachment planned")
	}
	if len(plan.Attachment.Conflicts) != 0 {
		t.Errorf("Conflicts = %+v, want none for reinstall over own files", plan.Attachment.Conflicts)
	}
}

func TestBuildRecord_Timestamps(t *testing.T) {
	m, _ := newFixture(t)
	before := time.Now().UTC().Add(-time.Second)
	mustInstall(t, m, "auth.firebase")

	manifest, _ := m.Store.Load()
	rec := manifest.Plugins["auth.firebase"]
	if rec.InstalledAt.Before(before) {
		t.Errorf("InstalledAt = %v, want recent", rec.InstalledAt)
	}
	if rec.BackupRun == "" {
		t.Error("BackupRun not recorded")
	}
}

func TestDedupeSorted(t *testing.T) {
	got := dedupeSorted([]string{"b", "a", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupeSorted = %v, want %v", got, want)
	}
}

func TestSummarizePatches(t *testing.T) {
	summary := summarizePatches(nil)
	if summary != "0 ops applied, 0 skipped" {
		t.Errorf("summary = %q", summary)
	}
}
