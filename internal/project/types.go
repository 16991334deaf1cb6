package project

import "time"

// SchemaVersion is the current manifest schema version written by this CLI.
const SchemaVersion = 1

// Well-known project-relative paths. Everything under ManagedDir and
// RuntimeDir is CLI-owned; the engine never writes outside these unless a
// capability pack or patch op explicitly targets a file, and even then
// user-owned destinations are conflict-checked first.
const (
	ManagedDir   = ".modkit"
	RuntimeDir   = "src/modkit"
	ManifestFile = ".modkit/manifest.json"
	LockFile     = ".modkit/manifest.lock"
	BackupsDir   = ".modkit/backups"
)

// Manifest is the persisted record of project identity and installed
// capabilities. It is the only durable mutable state the engine owns.
type Manifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	CLI           CLIInfo            `json:"cli"`
	Identity      Identity           `json:"identity"`
	Project       Settings           `json:"project"`
	Plugins       map[string]*Record `json:"plugins"`
	Permissions   []Permission       `json:"permissions,omitempty"`
}

// CLIInfo records which CLI created and last touched the manifest.
type CLIInfo struct {
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// Identity names the project.
type Identity struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Settings captures the project flavor the engine plans against.
type Settings struct {
	Target         string `json:"target"`         // e.g., "expo", "bare"
	Language       string `json:"language"`       // "ts" or "js"
	PackageManager string `json:"packageManager"` // "npm", "yarn", "pnpm", "bun"
}

// Record describes one installed capability.
type Record struct {
	ID          string         `json:"id"`
	Version     string         `json:"version"`
	InstalledAt time.Time      `json:"installedAt"`
	Config      map[string]any `json:"config,omitempty"`

	// OwnedPaths lists project-relative files the capability's pack
	// created; they are deleted on removal.
	OwnedPaths []string `json:"ownedPaths,omitempty"`

	// ModifiedFiles lists pre-existing project-relative files the patch
	// engine touched; they are restored from backup on removal.
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`

	// BackupRun is the backup namespace (run id) holding the pre-patch
	// copies of ModifiedFiles.
	BackupRun string `json:"backupRun,omitempty"`

	// Contributions persists the capability's runtime wiring so removal
	// can re-render the composition file from the manifest alone, without
	// consulting the registry.
	Contributions []RecordContribution `json:"contributions,omitempty"`

	// Slots persists the capability's conflict rules for the same reason.
	Slots []SlotClaim `json:"slots,omitempty"`

	// Permissions persists the platform permissions the capability
	// declared; the manifest-level summary is aggregated from these.
	Permissions []PermissionClaim `json:"permissions,omitempty"`
}

// PermissionClaim is one platform permission declared by a capability.
type PermissionClaim struct {
	Platform string `json:"platform"`
	Key      string `json:"key"`
	Reason   string `json:"reason,omitempty"`
}

// RecordContribution mirrors a descriptor contribution at install time.
type RecordContribution struct {
	Kind   string         `json:"kind"`
	Order  int            `json:"order"`
	Module string         `json:"module"`
	Export string         `json:"export"`
	Config map[string]any `json:"config,omitempty"`
}

// SlotClaim is a persisted conflict rule of an installed capability.
type SlotClaim struct {
	Slot string `json:"slot"`
	Mode string `json:"mode"`
}

// Permission is one aggregated platform permission entry.
type Permission struct {
	Platform string   `json:"platform"`
	Key      string   `json:"key"`
	Reason   string   `json:"reason,omitempty"`
	Sources  []string `json:"sources"` // capability ids requiring it
}

// Installed reports whether the given capability id is recorded.
func (m *Manifest) Installed(id string) bool {
	_, ok := m.Plugins[id]
	return ok
}

// InstalledIDs returns the installed capability ids in map order.
func (m *Manifest) InstalledIDs() []string {
	ids := make([]string, 0, len(m.Plugins))
	for id := range m.Plugins {
		ids = append(ids, id)
	}
	return ids
}
