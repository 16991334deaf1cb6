package cli

import (
	"errors"

	"github.com/modkit-labs/modkit/internal/modulator"
)

// Exit codes. Distinct ranges let scripts tell failure classes apart.
const (
	ExitOK           = 0
	ExitFailure      = 1 // generic failure
	ExitInvalidInput = 2 // bad arguments, unknown capability, invalid descriptor
	ExitIncompatible = 3 // capability does not support the project flavor
	ExitConflict     = 4 // slot or attachment conflict
	ExitIO           = 5 // manifest or filesystem I/O failure
)

// exitCodeFor maps an error to its exit code via the engine's taxonomy.
func exitCodeFor(err error) int {
	var silent *silentError
	if errors.As(err, &silent) {
		return silent.code
	}
	return exitForKind(modulator.KindOf(err))
}

func exitForKind(kind modulator.Kind) int {
	switch kind {
	case modulator.KindValidation:
		return ExitInvalidInput
	case modulator.KindIncompatibility:
		return ExitIncompatible
	case modulator.KindConflict, modulator.KindAttachmentConflict:
		return ExitConflict
	case modulator.KindManifestIO:
		return ExitIO
	default:
		return ExitFailure
	}
}

// silentError carries an exit code for failures whose details were
// already printed (e.g., a phase report); the root handler skips the
// generic error line for these.
type silentError struct {
	code int
}

func (e *silentError) Error() string { return "command failed" }
