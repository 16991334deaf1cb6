// Package project owns the persisted project manifest: the single source
// of truth for project identity and installed capabilities. The Store is
// the only writer; it rewrites the file atomically after schema validation
// and preserves unknown fields written by newer CLI versions. An advisory
// lock file serializes engine invocations against the same project.
package project
