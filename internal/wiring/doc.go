// Package wiring maintains the CLI-owned runtime composition file. It
// parses the file with tree-sitter, locates the marker comments as syntax
// nodes rather than text lines, and re-renders the import and contribution
// blocks from the full contribution set. Rendering is deterministic, so
// installing an already-wired capability is a no-op and removal is a
// re-render without the removed capability's entries.
package wiring
