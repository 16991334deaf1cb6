// Package deps plans and installs the package-manager dependencies a
// capability needs. Planning is pure: specs from the capability and its
// transitive requirements are merged with first-declared-wins
// deduplication. Installation shells out to the detected package manager
// in bounded batches, workspace-local packages last. Batches completed
// before a failure are deliberately left in place; the error names the
// failing batch so the partial state is visible to the caller.
package deps
