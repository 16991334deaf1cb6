package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/modkit-labs/modkit/internal/backup"
	"github.com/modkit-labs/modkit/internal/capability"
)

// Op statuses. Every op starts pending and ends in exactly one of these.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped-already-present"
	StatusError   = "error"
)

// OpResult records the outcome of one patch op.
type OpResult struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	File   string `json:"file"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Engine applies declarative, idempotent patch ops against the project
// tree with backup-before-write. Ops are filtered by the project's target
// flavor and active OS platforms before execution; an op outside the
// current flavor is skipped, not errored.
type Engine struct {
	ProjectRoot string
	Target      string   // project target flavor, e.g. "expo"
	Platforms   []string // active OS platforms, e.g. ["ios", "android"]

	// Backups receives a copy of every file before its first modification
	// in this run. Nil disables backups (dry runs).
	Backups *backup.Store
	RunID   string
}

// Apply executes one op. The same op applied twice leaves the file
// unchanged on the second pass and reports skipped-already-present.
func (e *Engine) Apply(op capability.PatchSpec) OpResult {
	return e.run(op, true)
}

// Preview evaluates one op without writing. The returned status is what
// Apply would report against the current file contents.
func (e *Engine) Preview(op capability.PatchSpec) OpResult {
	return e.run(op, false)
}

func (e *Engine) run(op capability.PatchSpec, write bool) OpResult {
	result := OpResult{ID: op.ID, Op: op.Op, File: op.File}

	if reason, filtered := e.filtered(op); filtered {
		result.Status = StatusSkipped
		result.Reason = reason
		return result
	}

	var (
		updated []byte
		reason  string
		err     error
	)

	switch op.Op {
	case capability.OpTextInsertOnce:
		updated, reason, err = e.textInsertOnce(op)
	case capability.OpTextReplaceOnce:
		updated, reason, err = e.textReplaceOnce(op)
	case capability.OpDataMerge:
		updated, reason, err = e.dataMerge(op)
	case capability.OpKeysEnsure:
		updated, reason, err = e.keysEnsure(op)
	default:
		err = fmt.Errorf("unknown patch op %q", op.Op)
	}

	if err != nil {
		result.Status = StatusError
		result.Reason = err.Error()
		return result
	}
	if updated == nil {
		result.Status = StatusSkipped
		result.Reason = reason
		return result
	}

	result.Status = StatusApplied
	if !write {
		return result
	}

	if e.Backups != nil {
		if err := e.Backups.Save(e.RunID, op.File); err != nil {
			result.Status = StatusError
			result.Reason = fmt.Sprintf("backing up %s: %v", op.File, err)
			return result
		}
	}

	if err := e.writeFile(op.File, updated); err != nil {
		result.Status = StatusError
		result.Reason = err.Error()
	}
	return result
}

// filtered reports whether the op is outside the project's flavor.
func (e *Engine) filtered(op capability.PatchSpec) (string, bool) {
	if len(op.Targets) > 0 && !contains(op.Targets, e.Target) {
		return fmt.Sprintf("target %s not in op targets", e.Target), true
	}
	if len(op.Platforms) > 0 && !intersects(op.Platforms, e.Platforms) {
		return "op platforms not active for this project", true
	}
	return "", false
}

func (e *Engine) readFile(relPath string) ([]byte, error) {
	data, err := os.ReadFile(e.abs(relPath))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}
	return data, nil
}

func (e *Engine) writeFile(relPath string, data []byte) error {
	p := e.abs(relPath)
	info, err := os.Stat(p)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(p, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}

func (e *Engine) abs(relPath string) string {
	return filepath.Join(e.ProjectRoot, filepath.FromSlash(relPath))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
