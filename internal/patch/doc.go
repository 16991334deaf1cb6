// Package patch applies declarative, idempotent file edits: anchored text
// insertion and replacement, deep structured-data merges, and
// ensure-key-exists edits to platform configuration files. Every op checks
// for its own effect before writing, so repeated application converges to
// skipped-already-present, and every modified file is backed up first so
// removal can restore pre-install content.
package patch
