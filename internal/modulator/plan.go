package modulator

import (
	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/conflict"
	"github.com/modkit-labs/modkit/internal/deps"
	"github.com/modkit-labs/modkit/internal/pack"
	"github.com/modkit-labs/modkit/internal/patch"
)

// Operations the engine plans.
const (
	OpInstall = "install"
	OpRemove  = "remove"
)

// Phase names, in install execution order. Remove runs its own subset in
// reverse dependency order.
const (
	PhaseDependencies   = "dependency-plan"
	PhaseConflictCheck  = "conflict-check"
	PhaseAttachment     = "attachment"
	PhaseWiring         = "runtime-wiring"
	PhasePatchOps       = "patch-ops"
	PhaseVerify         = "verify"
	PhaseManifestUpdate = "manifest-update"

	PhaseAttachmentCleanup = "attachment-cleanup"
)

// Plan is the pure-data outcome of planning one operation. Planning never
// mutates the filesystem, and identical inputs (manifest state, capability
// id, operation) produce structurally identical plans.
type Plan struct {
	Operation    string `json:"operation"`
	CapabilityID string `json:"capabilityId"`
	Version      string `json:"version,omitempty"`

	// NoOp marks a remove of a capability that is not installed: zero
	// phases, trivially successful.
	NoOp bool `json:"noOp,omitempty"`

	// Allowed is false when the conflict gate found single-slot hits.
	Allowed      bool           `json:"allowed"`
	ConflictHits []conflict.Hit `json:"conflictHits,omitempty"`

	Dependencies *deps.Plan `json:"dependencies,omitempty"`

	PackDir    string           `json:"packDir,omitempty"`
	Attachment *pack.Attachment `json:"attachment,omitempty"`

	// Wiring is the full desired contribution set after the operation.
	Wiring []wiringEntry `json:"wiring,omitempty"`
	// WiringAdded predicts the symbols the render will introduce.
	WiringAdded []capability.SymbolRef `json:"wiringAdded,omitempty"`

	Patches       []capability.PatchSpec `json:"patches,omitempty"`
	PatchPreviews []patch.OpResult       `json:"patchPreviews,omitempty"`

	// Remove-only: what the recorded installation owns.
	RemoveOwnedPaths    []string `json:"removeOwnedPaths,omitempty"`
	RemoveModifiedFiles []string `json:"removeModifiedFiles,omitempty"`

	Phases   []string `json:"phases"`
	Warnings []string `json:"warnings,omitempty"`
}

type wiringEntry struct {
	Owner  string         `json:"owner"`
	Kind   string         `json:"kind"`
	Order  int            `json:"order"`
	Module string         `json:"module"`
	Export string         `json:"export"`
	Config map[string]any `json:"config,omitempty"`
}

// installPhases is the fixed install phase order.
var installPhases = []string{
	PhaseDependencies,
	PhaseConflictCheck,
	PhaseAttachment,
	PhaseWiring,
	PhasePatchOps,
	PhaseVerify,
	PhaseManifestUpdate,
}

// removePhases is the fixed remove phase order: reverse dependency order
// of the install phases that left durable state.
var removePhases = []string{
	PhaseWiring,
	PhasePatchOps,
	PhaseAttachmentCleanup,
	PhaseManifestUpdate,
}
