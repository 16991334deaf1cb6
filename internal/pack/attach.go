package pack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modkit-labs/modkit/internal/project"
)

// excludedNames are entries never copied out of a pack.
var excludedNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	".DS_Store":    true,
}

// managedPrefixes are project-relative directories the CLI owns outright.
// Files under them are always safe to create or update.
var managedPrefixes = []string{
	project.ManagedDir + "/",
	project.RuntimeDir + "/",
}

// Actions an attachment can take on one destination file.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// FileAction is one planned write of an attachment.
type FileAction struct {
	Path   string `json:"path"`   // project-relative, slash-separated
	Action string `json:"action"` // create or update
}

// Conflict is a pack file whose destination is user-owned.
type Conflict struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Attachment is the fully simulated outcome of attaching one pack.
type Attachment struct {
	PackDir   string       `json:"packDir"`
	Files     []FileAction `json:"files,omitempty"`
	Conflicts []Conflict   `json:"conflicts,omitempty"`
}

// Created returns the project-relative paths the attachment will create.
func (a *Attachment) Created() []string {
	return a.pathsWith(ActionCreate)
}

// Updated returns the project-relative paths the attachment will update.
func (a *Attachment) Updated() []string {
	return a.pathsWith(ActionUpdate)
}

func (a *Attachment) pathsWith(action string) []string {
	var out []string
	for _, f := range a.Files {
		if f.Action == action {
			out = append(out, f.Path)
		}
	}
	return out
}

// Simulate walks the pack tree and classifies every destination without
// writing anything. A destination that already exists is an update when it
// lives in a CLI-managed directory or in priorOwned (a reinstall of the
// same capability); otherwise it is a user-owned file and a conflict.
// Files are reported in sorted path order.
func Simulate(packDir, projectRoot string, priorOwned map[string]bool) (*Attachment, error) {
	att := &Attachment{PackDir: packDir}

	err := filepath.WalkDir(packDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excludedNames[d.Name()] && path != packDir {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedNames[d.Name()] || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(packDir, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		dst := filepath.Join(projectRoot, rel)
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			att.Files = append(att.Files, FileAction{Path: relSlash, Action: ActionCreate})
			return nil
		}

		if isManaged(relSlash) || priorOwned[relSlash] {
			att.Files = append(att.Files, FileAction{Path: relSlash, Action: ActionUpdate})
			return nil
		}

		att.Conflicts = append(att.Conflicts, Conflict{
			Path:   relSlash,
			Reason: "destination exists and is user-owned",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("simulating attachment of %s: %w", packDir, err)
	}

	sort.Slice(att.Files, func(i, j int) bool { return att.Files[i].Path < att.Files[j].Path })
	sort.Slice(att.Conflicts, func(i, j int) bool { return att.Conflicts[i].Path < att.Conflicts[j].Path })
	return att, nil
}

// Commit writes a conflict-free attachment to the project tree. It must
// only be called with the Attachment returned by Simulate for the same
// pack; a non-empty conflict list is a programming error.
func Commit(att *Attachment, projectRoot string) error {
	if len(att.Conflicts) > 0 {
		return fmt.Errorf("refusing to commit attachment with %d conflicts", len(att.Conflicts))
	}

	for _, f := range att.Files {
		src := filepath.Join(att.PackDir, filepath.FromSlash(f.Path))
		dst := filepath.Join(projectRoot, filepath.FromSlash(f.Path))

		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("reading pack file %s: %w", f.Path, err)
		}
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("stat pack file %s: %w", f.Path, err)
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, data, info.Mode()); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return nil
}

// Cleanup deletes the given project-relative paths and prunes any
// directories left empty, stopping at the project root. Missing files are
// ignored; they may have been deleted by the user already.
func Cleanup(projectRoot string, ownedPaths []string) error {
	for _, rel := range ownedPaths {
		p := filepath.Join(projectRoot, filepath.FromSlash(rel))
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
		pruneEmptyDirs(projectRoot, filepath.Dir(p))
	}
	return nil
}

// pruneEmptyDirs removes empty parent directories up to (not including)
// the project root.
func pruneEmptyDirs(projectRoot, dir string) {
	root := filepath.Clean(projectRoot)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(os.PathSeparator)) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// isManaged reports whether a project-relative slash path lives inside a
// CLI-managed directory.
func isManaged(relSlash string) bool {
	for _, prefix := range managedPrefixes {
		if strings.HasPrefix(relSlash, prefix) {
			return true
		}
	}
	return false
}
