// Package conflict evaluates slot-ownership rules between an incoming
// capability and the capabilities already recorded in the project manifest.
// A slot is a named conflict domain (e.g., "navigation.root"); a "single"
// slot admits exactly one occupant, "multi" slots admit any number.
package conflict

import (
	"sort"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/project"
)

// Hit records one single-slot collision between an installed capability
// and the one being installed.
type Hit struct {
	Slot        string `json:"slot"`
	InstalledID string `json:"installedId"`
	IncomingID  string `json:"incomingId"`
}

// CheckResult is the outcome of a conflict check.
type CheckResult struct {
	OK   bool  `json:"ok"`
	Hits []Hit `json:"hits,omitempty"`
}

// Check scans the manifest's installed capabilities for occupants of every
// "single" slot the incoming capability declares. Installed capabilities
// are scanned in sorted id order so the hit list is deterministic. A
// capability reinstalling over itself never conflicts with its own claims.
func Check(incoming *capability.Descriptor, m *project.Manifest) CheckResult {
	result := CheckResult{OK: true}

	ids := m.InstalledIDs()
	sort.Strings(ids)

	for _, rule := range incoming.Conflicts {
		if rule.Mode != capability.SlotSingle {
			continue
		}
		for _, id := range ids {
			if id == incoming.ID {
				continue
			}
			if occupies(m.Plugins[id], rule.Slot) {
				result.Hits = append(result.Hits, Hit{
					Slot:        rule.Slot,
					InstalledID: id,
					IncomingID:  incoming.ID,
				})
			}
		}
	}

	result.OK = len(result.Hits) == 0
	return result
}

func occupies(rec *project.Record, slot string) bool {
	for _, claim := range rec.Slots {
		if claim.Slot == slot {
			return true
		}
	}
	return false
}
