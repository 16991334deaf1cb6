package project

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/manifest.schema.json
var manifestSchemaBytes []byte

var (
	manifestSchema     *jsonschema.Schema
	manifestSchemaOnce sync.Once
	manifestSchemaErr  error
)

// Store reads and writes the project manifest. It is the single writer;
// all mutations go through AddCapability and RemoveCapability.
//
// Unknown top-level fields found in an existing manifest (written by a
// newer CLI) are preserved verbatim on rewrite.
type Store struct {
	Root string // project root directory

	raw map[string]json.RawMessage // unknown-field overlay from last load
}

// NewStore returns a Store for the given project root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Path returns the absolute manifest path.
func (s *Store) Path() string {
	return filepath.Join(s.Root, filepath.FromSlash(ManifestFile))
}

// Exists reports whether a manifest is present at the project root.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads a fresh copy of the manifest from disk. Callers planning an
// operation must call this at plan start rather than reusing state from a
// prior invocation.
func (s *Store) Load() (*Manifest, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", s.Path(), err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", s.Path(), err)
	}
	s.raw = raw

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", s.Path(), err)
	}
	if m.Plugins == nil {
		m.Plugins = make(map[string]*Record)
	}

	return &m, nil
}

// Init writes a brand-new manifest. It fails if one already exists.
func (s *Store) Init(m *Manifest) error {
	if s.Exists() {
		return fmt.Errorf("manifest already exists at %s", s.Path())
	}
	s.raw = nil
	now := time.Now().UTC()
	m.SchemaVersion = SchemaVersion
	m.CLI.CreatedAt = now
	m.CLI.LastModified = now
	if m.Plugins == nil {
		m.Plugins = make(map[string]*Record)
	}
	return s.write(m)
}

// AddCapability records an installed capability and rewrites the manifest.
func (s *Store) AddCapability(m *Manifest, rec *Record) error {
	m.Plugins[rec.ID] = rec
	m.Permissions = aggregatePermissions(m)
	m.CLI.LastModified = time.Now().UTC()
	return s.write(m)
}

// RemoveCapability drops an installed capability and rewrites the manifest.
func (s *Store) RemoveCapability(m *Manifest, id string) error {
	delete(m.Plugins, id)
	m.Permissions = aggregatePermissions(m)
	m.CLI.LastModified = time.Now().UTC()
	return s.write(m)
}

// write validates the manifest against the embedded schema, then replaces
// the file atomically (full rewrite to a temp file, then rename).
func (s *Store) write(m *Manifest) error {
	data, err := s.marshal(m)
	if err != nil {
		return err
	}

	if err := validateManifest(data); err != nil {
		return fmt.Errorf("refusing to write invalid manifest: %w", err)
	}

	dir := filepath.Dir(s.Path())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "manifest-*.json")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp manifest: %w", err)
	}

	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing manifest: %w", err)
	}

	return nil
}

// marshal serializes the manifest, overlaying typed fields onto any unknown
// fields preserved from the last load.
func (s *Store) marshal(m *Manifest) ([]byte, error) {
	typed, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	if len(s.raw) == 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, typed, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}

	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(s.raw)+len(typedMap))
	for k, v := range s.raw {
		merged[k] = v
	}
	for k, v := range typedMap {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func getManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchemaBytes))
		if err != nil {
			manifestSchemaErr = fmt.Errorf("unmarshaling manifest schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			manifestSchemaErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		manifestSchema, manifestSchemaErr = c.Compile("manifest.schema.json")
	})
	return manifestSchema, manifestSchemaErr
}

func validateManifest(data []byte) error {
	schema, err := getManifestSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// aggregatePermissions rebuilds the manifest-level permission summary from
// the per-record claims. Output is sorted by (platform, key) and each entry
// lists the capability ids that require it.
func aggregatePermissions(m *Manifest) []Permission {
	type permKey struct{ platform, key string }

	byKey := make(map[permKey]*Permission)
	ids := m.InstalledIDs()
	sort.Strings(ids)

	for _, id := range ids {
		rec := m.Plugins[id]
		for _, claim := range rec.Permissions {
			k := permKey{claim.Platform, claim.Key}
			entry, ok := byKey[k]
			if !ok {
				entry = &Permission{
					Platform: claim.Platform,
					Key:      claim.Key,
					Reason:   claim.Reason,
				}
				byKey[k] = entry
			}
			entry.Sources = append(entry.Sources, id)
		}
	}

	out := make([]Permission, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Key < out[j].Key
	})
	return out
}
