package patch

import (
	"fmt"

	"github.com/modkit-labs/modkit/internal/backup"
)

// Restore reverses patch ops for the given modified files by restoring
// each from its most recent backup. A file with no backup is left as-is
// with a warning; user edits made after install are never deleted.
func Restore(store *backup.Store, modifiedFiles []string) (restored []string, warnings []string, err error) {
	for _, rel := range modifiedFiles {
		ok, restoreErr := store.RestoreLatest(rel)
		if restoreErr != nil {
			return restored, warnings, fmt.Errorf("restoring %s: %w", rel, restoreErr)
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no backup found for %s; leaving current content in place", rel))
			continue
		}
		restored = append(restored, rel)
	}
	return restored, warnings, nil
}
