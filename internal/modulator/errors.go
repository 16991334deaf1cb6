package modulator

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so the CLI can map them to distinct
// exit codes.
type Kind int

const (
	// KindGeneric is an unclassified failure.
	KindGeneric Kind = iota
	// KindValidation covers malformed descriptors and unknown capability
	// ids; nothing has touched the filesystem yet.
	KindValidation
	// KindIncompatibility means the capability does not support the
	// project's target, language, or CLI version; fails at plan time.
	KindIncompatibility
	// KindConflict is a single-slot collision; fails at plan time unless
	// forced.
	KindConflict
	// KindAttachmentConflict means a pack file would overwrite a
	// user-owned destination; fails before any write in that phase.
	KindAttachmentConflict
	// KindPatch covers anchor-not-found and unparsable patch targets.
	KindPatch
	// KindDependency is a package-manager failure; batches installed
	// before the failure remain in place.
	KindDependency
	// KindManifestIO is fatal: the manifest could not be read or written.
	KindManifestIO
)

// Error wraps a failure with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func errf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, or KindGeneric when the error was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}
