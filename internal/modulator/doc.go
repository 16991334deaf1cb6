// Package modulator orchestrates capability installation and removal.
// Planning produces a pure-data Plan from a fresh manifest read; Apply
// executes the plan's phases strictly in order against the filesystem and
// folds every failure except manifest I/O into a structured Result. A
// failed phase halts the rest, and the manifest is only updated by the
// final phase, so a failed apply never records a capability as
// installed or removed.
package modulator
