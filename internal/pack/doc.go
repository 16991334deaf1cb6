// Package pack resolves a capability's template variant for a project
// flavor and attaches it to the project tree. Attachment is two-phase:
// Simulate classifies every destination (create, update, or user-owned
// conflict) without touching the filesystem, and Commit writes only when
// the simulation found zero conflicts.
package pack
