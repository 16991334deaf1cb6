package project

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Lock is an advisory lock on the project manifest. Exactly one engine
// invocation may hold it; a second invocation fails fast instead of
// interleaving writes.
type Lock struct {
	path string
}

// AcquireLock creates the lock file with O_EXCL. If the file already
// exists, another invocation is active and the error says so, including
// the holder recorded in the file when readable.
func AcquireLock(root string) (*Lock, error) {
	path := filepath.Join(root, filepath.FromSlash(LockFile))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown process"
			if data, readErr := os.ReadFile(path); readErr == nil && len(data) > 0 {
				holder = string(data)
			}
			return nil, fmt.Errorf("project is locked by %s; if no other %s command is running, delete %s",
				holder, "modkit", path)
		}
		return nil, fmt.Errorf("acquiring project lock: %w", err)
	}

	fmt.Fprintf(f, "pid %d at %s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing project lock: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing project lock: %w", err)
	}
	return nil
}
