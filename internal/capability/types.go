package capability

// Descriptor is the static definition of an installable capability. It is
// loaded from a capability.yaml file, validated against an embedded JSON
// schema, and never mutated at runtime.
type Descriptor struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Category    string   `yaml:"category" json:"category"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	Support       Support        `yaml:"support" json:"support"`
	Engines       Engines        `yaml:"engines,omitempty" json:"engines,omitempty"`
	Requires      []string       `yaml:"requires,omitempty" json:"requires,omitempty"`
	Conflicts     []ConflictRule `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`
	Permissions   []Permission   `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Dependencies  Dependencies   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Contributions []Contribution `yaml:"contributions,omitempty" json:"contributions,omitempty"`
	Patches       []PatchSpec    `yaml:"patches,omitempty" json:"patches,omitempty"`

	// Dir is the absolute path of the capability directory the descriptor
	// was loaded from. Set by the registry, not part of the YAML document.
	Dir string `yaml:"-" json:"-"`
}

// Support declares which project flavors a capability can be installed into.
type Support struct {
	Targets   []string `yaml:"targets" json:"targets"`
	Languages []string `yaml:"languages,omitempty" json:"languages,omitempty"`
}

// Engines carries tool compatibility constraints as semver ranges.
type Engines struct {
	CLI string `yaml:"cli,omitempty" json:"cli,omitempty"`
}

// Conflict slot modes.
const (
	SlotSingle = "single"
	SlotMulti  = "multi"
)

// ConflictRule declares occupancy of a named conflict slot. A "single" slot
// admits exactly one installed occupant; "multi" slots admit any number.
type ConflictRule struct {
	Slot string `yaml:"slot" json:"slot"`
	Mode string `yaml:"mode" json:"mode"`
}

// Permission is a platform permission the capability needs, surfaced in the
// project manifest's aggregated permission summary.
type Permission struct {
	Platform string `yaml:"platform" json:"platform"`
	Key      string `yaml:"key" json:"key"`
	Reason   string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Dependencies lists the package specs a capability needs installed.
type Dependencies struct {
	Runtime []DependencySpec `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Dev     []DependencySpec `yaml:"dev,omitempty" json:"dev,omitempty"`
}

// DependencySpec is one package-manager dependency.
type DependencySpec struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Contribution kinds, rendered into the runtime composition file.
const (
	KindProvider = "provider"
	KindWrapper  = "wrapper"
	KindInit     = "init"
	KindBinding  = "binding"
)

// Contribution is one ordered runtime-wiring entry. Lower order renders
// earlier (outermost for wrappers/providers). Ties across capabilities are
// broken by capability id so the total order is reproducible.
type Contribution struct {
	Kind   string         `yaml:"kind" json:"kind"`
	Order  int            `yaml:"order" json:"order"`
	Symbol SymbolRef      `yaml:"symbol" json:"symbol"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// SymbolRef identifies an importable symbol in the project's package graph.
type SymbolRef struct {
	Module string `yaml:"module" json:"module"`
	Export string `yaml:"export" json:"export"`
}

// Patch op types.
const (
	OpTextInsertOnce  = "text.insertOnce"
	OpTextReplaceOnce = "text.replaceOnce"
	OpDataMerge       = "data.merge"
	OpKeysEnsure      = "keys.ensure"
)

// PatchSpec is one declarative, idempotent file edit. Which fields are
// meaningful depends on Op:
//
//	text.insertOnce   Anchor, Content, Position ("before"/"after")
//	text.replaceOnce  Anchor, Content
//	data.merge        Data
//	keys.ensure       Keys (dotted path -> default value)
//
// Targets and Platforms filter the op to specific project targets and OS
// platforms; an op outside the project's flavor is skipped, never errored.
type PatchSpec struct {
	ID        string         `yaml:"id" json:"id"`
	Op        string         `yaml:"op" json:"op"`
	File      string         `yaml:"file" json:"file"`
	Anchor    string         `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	Content   string         `yaml:"content,omitempty" json:"content,omitempty"`
	Position  string         `yaml:"position,omitempty" json:"position,omitempty"`
	Data      map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
	Keys      map[string]any `yaml:"keys,omitempty" json:"keys,omitempty"`
	Targets   []string       `yaml:"targets,omitempty" json:"targets,omitempty"`
	Platforms []string       `yaml:"platforms,omitempty" json:"platforms,omitempty"`
}

// SupportsTarget reports whether the capability supports the given project
// target (e.g., "expo", "bare").
func (d *Descriptor) SupportsTarget(target string) bool {
	for _, t := range d.Support.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether the capability supports the given
// language. An empty language list means all languages are supported.
func (d *Descriptor) SupportsLanguage(lang string) bool {
	if len(d.Support.Languages) == 0 {
		return true
	}
	for _, l := range d.Support.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
