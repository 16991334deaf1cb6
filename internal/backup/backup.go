// Package backup manages pre-modification copies of project files under
// .modkit/backups/, namespaced by run id. The patch engine saves a copy
// before the first write to any file in a run; removal restores from the
// most recent run that holds a copy.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store reads and writes backups for one project.
type Store struct {
	projectRoot string
	backupsRoot string
}

// NewStore returns a backup store rooted at <projectRoot>/<backupsDir>.
func NewStore(projectRoot, backupsDir string) *Store {
	return &Store{
		projectRoot: projectRoot,
		backupsRoot: filepath.Join(projectRoot, filepath.FromSlash(backupsDir)),
	}
}

// NewRunID returns a fresh backup namespace. The timestamp prefix keeps
// run directories lexicographically ordered by creation time.
func NewRunID() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Save copies the project-relative file into the given run, creating the
// run directory as needed. Saving the same file twice in one run keeps the
// first copy, so the backup always reflects the pre-run content.
func (s *Store) Save(runID, relPath string) error {
	src := filepath.Join(s.projectRoot, filepath.FromSlash(relPath))
	dst := filepath.Join(s.backupsRoot, runID, filepath.FromSlash(relPath))

	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s for backup: %w", relPath, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s for backup: %w", relPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if err := os.WriteFile(dst, data, info.Mode()); err != nil {
		return fmt.Errorf("writing backup of %s: %w", relPath, err)
	}
	return nil
}

// RestoreLatest copies the most recent backed-up version of the
// project-relative file back into the project. It returns false when no
// run holds a copy of the file.
func (s *Store) RestoreLatest(relPath string) (bool, error) {
	runs, err := s.runsNewestFirst()
	if err != nil {
		return false, err
	}

	for _, run := range runs {
		src := filepath.Join(s.backupsRoot, run, filepath.FromSlash(relPath))
		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return false, fmt.Errorf("reading backup %s: %w", src, err)
		}
		dst := filepath.Join(s.projectRoot, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return false, fmt.Errorf("restoring %s: %w", relPath, err)
		}
		if err := os.WriteFile(dst, data, info.Mode()); err != nil {
			return false, fmt.Errorf("restoring %s: %w", relPath, err)
		}
		return true, nil
	}
	return false, nil
}

// Has reports whether the given run holds a copy of the file.
func (s *Store) Has(runID, relPath string) bool {
	_, err := os.Stat(filepath.Join(s.backupsRoot, runID, filepath.FromSlash(relPath)))
	return err == nil
}

// runsNewestFirst lists run directories sorted newest first.
func (s *Store) runsNewestFirst() ([]string, error) {
	entries, err := os.ReadDir(s.backupsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backups directory: %w", err)
	}

	var runs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			runs = append(runs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}
