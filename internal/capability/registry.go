package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is one directory tree searched for capability descriptors.
type Source struct {
	Name     string // e.g., "registry", "acme-corp"
	BasePath string // absolute path to the source root
}

// Registry is the set of capability descriptors discovered at startup.
// It is built once per invocation and read-only afterwards.
type Registry struct {
	byID map[string]*Descriptor
}

// LoadRegistry scans every source for capability.yaml files two levels deep
// (<root>/<namespace>/<name>/capability.yaml), validates each descriptor,
// and indexes them by id. A malformed descriptor or a duplicate id across
// sources is a load error, not a silent skip.
func LoadRegistry(sources []Source) (*Registry, error) {
	reg := &Registry{byID: make(map[string]*Descriptor)}

	for _, src := range sources {
		if err := reg.loadSource(src); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func (r *Registry) loadSource(src Source) error {
	namespaces, err := os.ReadDir(src.BasePath)
	if err != nil {
		return fmt.Errorf("reading source %s at %s: %w", src.Name, src.BasePath, err)
	}

	for _, ns := range namespaces {
		if !ns.IsDir() || strings.HasPrefix(ns.Name(), ".") {
			continue
		}
		nsDir := filepath.Join(src.BasePath, ns.Name())

		entries, err := os.ReadDir(nsDir)
		if err != nil {
			return fmt.Errorf("reading namespace %s in source %s: %w", ns.Name(), src.Name, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}

			capDir := filepath.Join(nsDir, entry.Name())
			descPath := filepath.Join(capDir, DescriptorFileName)
			if _, err := os.Stat(descPath); err != nil {
				continue // directory without a descriptor is not a capability
			}

			desc, err := ParseFile(descPath)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name, err)
			}

			// The directory layout is the id's source of truth; a descriptor
			// claiming a different id would make lookups ambiguous.
			wantID := ns.Name() + "." + entry.Name()
			if desc.ID != wantID {
				return fmt.Errorf("source %s: descriptor at %s declares id %q, directory implies %q",
					src.Name, descPath, desc.ID, wantID)
			}

			if existing, ok := r.byID[desc.ID]; ok {
				return fmt.Errorf("duplicate capability id %q: found in %s and %s",
					desc.ID, existing.Dir, capDir)
			}

			desc.Dir = capDir
			r.byID[desc.ID] = desc
		}
	}

	return nil
}

// Get returns the descriptor for the given id.
func (r *Registry) Get(id string) (*Descriptor, error) {
	desc, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", id)
	}
	return desc, nil
}

// Has reports whether the registry contains the given id.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns all descriptors sorted by id.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.byID)
}
