package modulator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modkit-labs/modkit/internal/backup"
	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/conflict"
	"github.com/modkit-labs/modkit/internal/deps"
	"github.com/modkit-labs/modkit/internal/logging"
	"github.com/modkit-labs/modkit/internal/pack"
	"github.com/modkit-labs/modkit/internal/patch"
	"github.com/modkit-labs/modkit/internal/project"
	"github.com/modkit-labs/modkit/internal/wiring"

	"github.com/Masterminds/semver/v3"
)

// CompositionFile is the project-relative path of the CLI-owned runtime
// composition file the wiring injector maintains.
const CompositionFile = project.RuntimeDir + "/runtime.tsx"

// activePlatforms are the OS platforms every mobile project builds for.
var activePlatforms = []string{"ios", "android"}

// Modulator composes the planner, conflict gate, attachment engine,
// wiring injector, and patch engine into plan/apply/remove operations.
// Phases execute strictly sequentially; the caller must hold the project
// lock for the whole invocation, planning included. Apply additionally
// re-evaluates the conflict gate and the wiring set against the manifest
// it loads, so a plan computed before a concurrent change cannot act on
// stale state.
type Modulator struct {
	Registry   *capability.Registry
	Store      *project.Store
	CLIVersion string

	// PMOutput receives streamed package-manager output. Nil discards.
	PMOutput io.Writer
}

// New returns a Modulator for the given registry and project store.
func New(reg *capability.Registry, store *project.Store, cliVersion string) *Modulator {
	return &Modulator{Registry: reg, Store: store, CLIVersion: cliVersion}
}

// ApplyOptions adjust apply behavior.
type ApplyOptions struct {
	// Force bypasses the conflict gate. The collision is recorded as a
	// warning; the existing occupant is never silently swapped out.
	Force bool
}

// PlanInstall builds the pure-data install plan for a capability. It
// reads a fresh manifest copy, validates compatibility, merges the
// dependency set, evaluates the conflict gate, simulates the attachment,
// and previews wiring and patch ops. Nothing is written.
func (m *Modulator) PlanInstall(id, optionsKey string) (*Plan, error) {
	manifest, err := m.Store.Load()
	if err != nil {
		return nil, wrap(KindManifestIO, err)
	}

	desc, err := m.Registry.Get(id)
	if err != nil {
		return nil, wrap(KindValidation, err)
	}

	if err := m.checkCompatibility(desc, manifest); err != nil {
		return nil, err
	}

	plan := &Plan{
		Operation:    OpInstall,
		CapabilityID: id,
		Version:      desc.Version,
		Phases:       installPhases,
	}

	plan.Dependencies, err = m.planDependencies(desc, manifest)
	if err != nil {
		return nil, err
	}

	check := conflict.Check(desc, manifest)
	plan.Allowed = check.OK
	plan.ConflictHits = check.Hits

	if err := m.planAttachment(plan, desc, manifest, optionsKey); err != nil {
		return nil, err
	}
	if err := m.planWiring(plan, desc, manifest); err != nil {
		return nil, err
	}
	m.planPatches(plan, desc, manifest)

	return plan, nil
}

// PlanRemove builds the remove plan from the manifest record. Removing a
// capability that is not installed yields a NoOp plan with zero phases.
func (m *Modulator) PlanRemove(id string) (*Plan, error) {
	manifest, err := m.Store.Load()
	if err != nil {
		return nil, wrap(KindManifestIO, err)
	}

	plan := &Plan{
		Operation:    OpRemove,
		CapabilityID: id,
		Allowed:      true,
	}

	rec, installed := manifest.Plugins[id]
	if !installed {
		plan.NoOp = true
		plan.Phases = []string{}
		return plan, nil
	}

	plan.Version = rec.Version
	plan.Phases = removePhases
	plan.RemoveOwnedPaths = append([]string(nil), rec.OwnedPaths...)
	plan.RemoveModifiedFiles = append([]string(nil), rec.ModifiedFiles...)
	plan.Wiring = desiredWiring(manifest, nil, id)

	return plan, nil
}

// Apply executes a plan against the real filesystem. All failures except
// manifest I/O are folded into the returned Result; manifest I/O is also
// returned as an error so callers treat it as fatal.
func (m *Modulator) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) (*Result, error) {
	result := &Result{
		Operation:    plan.Operation,
		CapabilityID: plan.CapabilityID,
		Success:      true,
	}

	if plan.Operation == OpRemove {
		return m.applyRemove(plan, result)
	}
	return m.applyInstall(ctx, plan, opts, result)
}

func (m *Modulator) applyInstall(ctx context.Context, plan *Plan, opts ApplyOptions, result *Result) (*Result, error) {
	manifest, err := m.Store.Load()
	if err != nil {
		result.failed(PhaseManifestUpdate, err)
		return result, wrap(KindManifestIO, err)
	}

	desc, err := m.Registry.Get(plan.CapabilityID)
	if err != nil {
		werr := wrap(KindValidation, err)
		result.Success = false
		result.FailureKind = KindValidation
		result.Errors = append(result.Errors, werr.Error())
		return result, werr
	}

	// The conflict gate runs against the manifest as it is now, not as it
	// was at plan time: another invocation may have claimed the slot in
	// between. Refusal happens before any phase, so a rejected plan still
	// performs zero mutations.
	check := conflict.Check(desc, manifest)
	plan.Allowed = check.OK
	plan.ConflictHits = check.Hits
	if !plan.Allowed && !opts.Force {
		gerr := errf(KindConflict, "capability %s conflicts with installed capabilities (%s); use --force to override",
			plan.CapabilityID, describeHits(plan.ConflictHits))
		result.Success = false
		result.FailureKind = KindConflict
		result.Errors = append(result.Errors, gerr.Error())
		return result, gerr
	}

	// Wiring re-derives from the current records so a plan computed before
	// another install never renders that capability's contributions away.
	plan.Wiring = desiredWiring(manifest, desc, "")

	runID := backup.NewRunID()
	backups := backup.NewStore(m.Store.Root, project.BackupsDir)
	log := logging.L().With(
		zap.String("capability", plan.CapabilityID),
		zap.String("run", runID))

	var (
		patchResults  []patch.OpResult
		modifiedFiles []string
	)

	for _, phase := range plan.Phases {
		log.Debug("entering phase", zap.String("phase", phase))

		switch phase {
		case PhaseDependencies:
			if plan.Dependencies == nil || plan.Dependencies.Empty() {
				result.skipped(phase, "no dependencies to install")
				continue
			}
			runner := &deps.Runner{
				PM:     manifest.Project.PackageManager,
				Dir:    m.Store.Root,
				Stdout: m.PMOutput,
				Stderr: m.PMOutput,
			}
			if err := runner.Install(ctx, plan.Dependencies.Runtime, false); err != nil {
				result.warn("dependencies from completed batches remain installed")
				result.failed(phase, wrap(KindDependency, err))
				return result, nil
			}
			if err := runner.Install(ctx, plan.Dependencies.Dev, true); err != nil {
				result.warn("dependencies from completed batches remain installed")
				result.failed(phase, wrap(KindDependency, err))
				return result, nil
			}
			result.executed(phase, fmt.Sprintf("installed %d runtime, %d dev packages",
				len(plan.Dependencies.Runtime), len(plan.Dependencies.Dev)))

		case PhaseConflictCheck:
			if !plan.Allowed {
				// Force override: proceed, record, never swap the occupant.
				for _, hit := range plan.ConflictHits {
					result.warn(fmt.Sprintf("slot %s is occupied by %s; forced install of %s leaves both in place",
						hit.Slot, hit.InstalledID, hit.IncomingID))
				}
				result.executed(phase, "conflicts overridden by force")
				continue
			}
			result.executed(phase, "no slot conflicts")

		case PhaseAttachment:
			if plan.Attachment == nil {
				result.skipped(phase, "capability ships no pack for this project flavor")
				continue
			}
			if len(plan.Attachment.Conflicts) > 0 {
				result.failed(phase, errf(KindAttachmentConflict,
					"refusing to attach: %s", describeConflicts(plan.Attachment.Conflicts)))
				return result, nil
			}
			for _, rel := range plan.Attachment.Updated() {
				if err := backups.Save(runID, rel); err != nil {
					result.failed(phase, err)
					return result, nil
				}
			}
			if err := pack.Commit(plan.Attachment, m.Store.Root); err != nil {
				result.failed(phase, err)
				return result, nil
			}
			result.executed(phase, fmt.Sprintf("%d files attached", len(plan.Attachment.Files)))

		case PhaseWiring:
			if len(plan.Wiring) == 0 {
				result.skipped(phase, "no runtime contributions")
				continue
			}
			added, err := m.renderWiring(plan.Wiring)
			if err != nil {
				result.failed(phase, wrap(KindPatch, err))
				return result, nil
			}
			if added == 0 {
				result.executed(phase, "already wired; no new symbols added")
			} else {
				result.executed(phase, fmt.Sprintf("%d symbols wired", added))
			}

		case PhasePatchOps:
			engine := &patch.Engine{
				ProjectRoot: m.Store.Root,
				Target:      manifest.Project.Target,
				Platforms:   activePlatforms,
				Backups:     backups,
				RunID:       runID,
			}
			failed := false
			for _, spec := range plan.Patches {
				res := engine.Apply(spec)
				patchResults = append(patchResults, res)
				if res.Status == patch.StatusError {
					result.failed(phase, errf(KindPatch, "op %s on %s: %s", res.ID, res.File, res.Reason))
					failed = true
					break
				}
				if res.Status == patch.StatusApplied {
					modifiedFiles = append(modifiedFiles, res.File)
				}
			}
			if failed {
				return result, nil
			}
			result.executed(phase, summarizePatches(patchResults))

		case PhaseVerify:
			if err := m.verifyInstall(plan, manifest); err != nil {
				result.failed(phase, err)
				return result, nil
			}
			result.executed(phase, "wiring and patches verified")

		case PhaseManifestUpdate:
			rec := m.buildRecord(plan, runID, modifiedFiles)
			if err := m.Store.AddCapability(manifest, rec); err != nil {
				result.failed(phase, err)
				return result, wrap(KindManifestIO, err)
			}
			result.executed(phase, "capability recorded")
		}
	}

	return result, nil
}

func (m *Modulator) applyRemove(plan *Plan, result *Result) (*Result, error) {
	if plan.NoOp {
		// Nothing installed under this id; nothing to do, by contract.
		return result, nil
	}

	manifest, err := m.Store.Load()
	if err != nil {
		result.failed(PhaseManifestUpdate, err)
		return result, wrap(KindManifestIO, err)
	}

	// Another invocation may have removed the capability since the plan
	// was computed; removal of what is no longer installed does nothing.
	rec, installed := manifest.Plugins[plan.CapabilityID]
	if !installed {
		return result, nil
	}
	plan.RemoveOwnedPaths = append([]string(nil), rec.OwnedPaths...)
	plan.RemoveModifiedFiles = append([]string(nil), rec.ModifiedFiles...)
	plan.Wiring = desiredWiring(manifest, nil, plan.CapabilityID)

	backups := backup.NewStore(m.Store.Root, project.BackupsDir)

	for _, phase := range plan.Phases {
		switch phase {
		case PhaseWiring:
			_, err := m.renderWiring(plan.Wiring)
			if err != nil {
				result.failed(phase, wrap(KindPatch, err))
				return result, nil
			}
			result.executed(phase, "contributions removed")

		case PhasePatchOps:
			if len(plan.RemoveModifiedFiles) == 0 {
				result.skipped(phase, "no modified files recorded")
				continue
			}
			restored, warnings, err := patch.Restore(backups, plan.RemoveModifiedFiles)
			if err != nil {
				result.failed(phase, wrap(KindPatch, err))
				return result, nil
			}
			for _, w := range warnings {
				result.warn(w)
			}
			result.executed(phase, fmt.Sprintf("%d files restored from backup", len(restored)))

		case PhaseAttachmentCleanup:
			if len(plan.RemoveOwnedPaths) == 0 {
				result.skipped(phase, "no owned paths recorded")
				continue
			}
			if err := pack.Cleanup(m.Store.Root, plan.RemoveOwnedPaths); err != nil {
				result.failed(phase, err)
				return result, nil
			}
			result.executed(phase, fmt.Sprintf("%d owned paths removed", len(plan.RemoveOwnedPaths)))

		case PhaseManifestUpdate:
			if err := m.Store.RemoveCapability(manifest, plan.CapabilityID); err != nil {
				result.failed(phase, err)
				return result, wrap(KindManifestIO, err)
			}
			result.executed(phase, "capability removed from manifest")
		}
	}

	return result, nil
}

// renderWiring re-renders the composition file from the full desired
// entry set and reports how many new symbols the render introduced.
func (m *Modulator) renderWiring(entries []wiringEntry) (added int, err error) {
	path := filepath.Join(m.Store.Root, filepath.FromSlash(CompositionFile))
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading composition file: %w", err)
	}

	res, err := wiring.Render(content, toWiringEntries(entries))
	if err != nil {
		return 0, err
	}
	if res.Changed {
		info, statErr := os.Stat(path)
		mode := os.FileMode(0644)
		if statErr == nil {
			mode = info.Mode()
		}
		if err := os.WriteFile(path, res.Content, mode); err != nil {
			return 0, fmt.Errorf("writing composition file: %w", err)
		}
	}
	return len(res.AddedSymbols), nil
}

// verifyInstall re-checks the filesystem after the mutating phases: the
// wiring render must be a fixed point and every patch op must now report
// its effect as already present.
func (m *Modulator) verifyInstall(plan *Plan, manifest *project.Manifest) error {
	if len(plan.Wiring) > 0 {
		path := filepath.Join(m.Store.Root, filepath.FromSlash(CompositionFile))
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("verify: reading composition file: %w", err)
		}
		res, err := wiring.Render(content, toWiringEntries(plan.Wiring))
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if res.Changed || len(res.AddedSymbols) > 0 {
			return errf(KindPatch, "verify: composition file is not fully wired")
		}
	}

	engine := &patch.Engine{
		ProjectRoot: m.Store.Root,
		Target:      manifest.Project.Target,
		Platforms:   activePlatforms,
	}
	for _, spec := range plan.Patches {
		res := engine.Preview(spec)
		if res.Status != patch.StatusSkipped {
			return errf(KindPatch, "verify: op %s on %s did not converge (%s)", res.ID, res.File, res.Status)
		}
	}
	return nil
}

func (m *Modulator) buildRecord(plan *Plan, runID string, patchModified []string) *project.Record {
	desc, _ := m.Registry.Get(plan.CapabilityID)

	rec := &project.Record{
		ID:          plan.CapabilityID,
		Version:     plan.Version,
		InstalledAt: nowUTC(),
		BackupRun:   runID,
	}

	if plan.Attachment != nil {
		rec.OwnedPaths = plan.Attachment.Created()
		rec.ModifiedFiles = plan.Attachment.Updated()
	}
	rec.ModifiedFiles = dedupeSorted(append(rec.ModifiedFiles, patchModified...))

	if desc != nil {
		for _, c := range desc.Contributions {
			rec.Contributions = append(rec.Contributions, project.RecordContribution{
				Kind:   c.Kind,
				Order:  c.Order,
				Module: c.Symbol.Module,
				Export: c.Symbol.Export,
				Config: c.Config,
			})
		}
		for _, rule := range desc.Conflicts {
			rec.Slots = append(rec.Slots, project.SlotClaim{Slot: rule.Slot, Mode: rule.Mode})
		}
		for _, p := range desc.Permissions {
			rec.Permissions = append(rec.Permissions, project.PermissionClaim{
				Platform: p.Platform,
				Key:      p.Key,
				Reason:   p.Reason,
			})
		}
	}

	return rec
}

// checkCompatibility validates target, language, and CLI version support.
func (m *Modulator) checkCompatibility(desc *capability.Descriptor, manifest *project.Manifest) error {
	if !desc.SupportsTarget(manifest.Project.Target) {
		return errf(KindIncompatibility, "capability %s does not support target %q (supports: %v)",
			desc.ID, manifest.Project.Target, desc.Support.Targets)
	}
	if !desc.SupportsLanguage(manifest.Project.Language) {
		return errf(KindIncompatibility, "capability %s does not support language %q",
			desc.ID, manifest.Project.Language)
	}

	if desc.Engines.CLI != "" {
		constraint, err := semver.NewConstraint(desc.Engines.CLI)
		if err != nil {
			return errf(KindValidation, "capability %s has invalid engines.cli constraint %q: %v",
				desc.ID, desc.Engines.CLI, err)
		}
		// Development builds ("dev") skip the engine check.
		if v, err := semver.NewVersion(m.CLIVersion); err == nil {
			if !constraint.Check(v) {
				return errf(KindIncompatibility, "capability %s requires CLI %s, this is %s",
					desc.ID, desc.Engines.CLI, m.CLIVersion)
			}
		}
	}
	return nil
}

func (m *Modulator) planDependencies(desc *capability.Descriptor, manifest *project.Manifest) (*deps.Plan, error) {
	plan, err := deps.BuildPlan(desc, m.Registry, manifest)
	if err != nil {
		return nil, wrap(KindValidation, err)
	}
	return plan, nil
}

func (m *Modulator) planAttachment(plan *Plan, desc *capability.Descriptor, manifest *project.Manifest, optionsKey string) error {
	packDir, ok := pack.Resolve(desc, manifest.Project.Target, manifest.Project.Language, optionsKey)
	if !ok {
		return nil
	}

	priorOwned := make(map[string]bool)
	if rec, installed := manifest.Plugins[desc.ID]; installed {
		for _, p := range rec.OwnedPaths {
			priorOwned[p] = true
		}
		for _, p := range rec.ModifiedFiles {
			priorOwned[p] = true
		}
	}

	att, err := pack.Simulate(packDir, m.Store.Root, priorOwned)
	if err != nil {
		return wrap(KindGeneric, err)
	}
	plan.PackDir = packDir
	plan.Attachment = att
	return nil
}

func (m *Modulator) planWiring(plan *Plan, desc *capability.Descriptor, manifest *project.Manifest) error {
	plan.Wiring = desiredWiring(manifest, desc, "")
	if len(plan.Wiring) == 0 {
		return nil
	}

	path := filepath.Join(m.Store.Root, filepath.FromSlash(CompositionFile))
	content, err := os.ReadFile(path)
	if err != nil {
		return errf(KindValidation, "composition file %s missing; run 'modkit init' first", CompositionFile)
	}

	res, err := wiring.Render(content, toWiringEntries(plan.Wiring))
	if err != nil {
		return wrap(KindPatch, err)
	}
	plan.WiringAdded = res.AddedSymbols
	return nil
}

func (m *Modulator) planPatches(plan *Plan, desc *capability.Descriptor, manifest *project.Manifest) {
	plan.Patches = desc.Patches
	if len(plan.Patches) == 0 {
		return
	}

	engine := &patch.Engine{
		ProjectRoot: m.Store.Root,
		Target:      manifest.Project.Target,
		Platforms:   activePlatforms,
	}
	for _, spec := range plan.Patches {
		plan.PatchPreviews = append(plan.PatchPreviews, engine.Preview(spec))
	}
}

// desiredWiring merges the contributions of every installed capability
// (except excludeID) with the incoming descriptor's. Installed ids are
// visited in sorted order; the final total order is established by the
// renderer's (order, owner) sort.
func desiredWiring(manifest *project.Manifest, incoming *capability.Descriptor, excludeID string) []wiringEntry {
	var entries []wiringEntry

	ids := manifest.InstalledIDs()
	sort.Strings(ids)
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		if incoming != nil && id == incoming.ID {
			continue // reinstall: descriptor contributions replace the record's
		}
		for _, c := range manifest.Plugins[id].Contributions {
			entries = append(entries, wiringEntry{
				Owner:  id,
				Kind:   c.Kind,
				Order:  c.Order,
				Module: c.Module,
				Export: c.Export,
				Config: c.Config,
			})
		}
	}

	if incoming != nil {
		for _, c := range incoming.Contributions {
			entries = append(entries, wiringEntry{
				Owner:  incoming.ID,
				Kind:   c.Kind,
				Order:  c.Order,
				Module: c.Symbol.Module,
				Export: c.Symbol.Export,
				Config: c.Config,
			})
		}
	}

	return entries
}

func toWiringEntries(entries []wiringEntry) []wiring.Entry {
	out := make([]wiring.Entry, len(entries))
	for i, e := range entries {
		out[i] = wiring.Entry{
			Owner:  e.Owner,
			Kind:   e.Kind,
			Order:  e.Order,
			Module: e.Module,
			Export: e.Export,
			Config: e.Config,
		}
	}
	return out
}

func describeHits(hits []conflict.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("slot %s held by %s", h.Slot, h.InstalledID)
	}
	return joinComma(parts)
}

func describeConflicts(conflicts []pack.Conflict) string {
	parts := make([]string, len(conflicts))
	for i, c := range conflicts {
		parts[i] = c.Path
	}
	return joinComma(parts)
}

func summarizePatches(results []patch.OpResult) string {
	applied, skipped := 0, 0
	for _, r := range results {
		switch r.Status {
		case patch.StatusApplied:
			applied++
		case patch.StatusSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("%d ops applied, %d skipped", applied, skipped)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func dedupeSorted(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func joinComma(parts []string) string {
	return strings.Join(parts, ", ")
}
