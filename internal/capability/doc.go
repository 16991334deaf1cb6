// Package capability defines the static descriptor model for installable
// capabilities and the startup registry that discovers, schema-validates,
// and indexes descriptors from the configured sources.
package capability
