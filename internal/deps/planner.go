package deps

import (
	"fmt"
	"strings"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/project"
)

// DefaultMaxBatch bounds how many package specs are passed to a single
// package-manager invocation, keeping the command line well under OS
// argument-length limits.
const DefaultMaxBatch = 16

// Plan is the merged dependency set for one install operation.
type Plan struct {
	Runtime []capability.DependencySpec `json:"runtime,omitempty"`
	Dev     []capability.DependencySpec `json:"dev,omitempty"`
}

// Empty reports whether the plan installs nothing.
func (p *Plan) Empty() bool {
	return len(p.Runtime) == 0 && len(p.Dev) == 0
}

// BuildPlan merges the dependency specs of the capability and its
// transitive requirements into one deduplicated list.
//
// Requirements already installed in the project contribute nothing (their
// dependencies were installed with them). Duplicate specs for the same
// package name keep the first-declared version; later duplicates are
// dropped, not overwritten. Traversal follows declaration order, so the
// result is deterministic for a given registry and manifest state.
func BuildPlan(desc *capability.Descriptor, reg *capability.Registry, m *project.Manifest) (*Plan, error) {
	plan := &Plan{}
	seenCaps := make(map[string]bool)
	seenRuntime := make(map[string]bool)
	seenDev := make(map[string]bool)

	var visit func(d *capability.Descriptor) error
	visit = func(d *capability.Descriptor) error {
		if seenCaps[d.ID] {
			return nil
		}
		seenCaps[d.ID] = true

		for _, spec := range d.Dependencies.Runtime {
			if !seenRuntime[spec.Name] {
				seenRuntime[spec.Name] = true
				plan.Runtime = append(plan.Runtime, spec)
			}
		}
		for _, spec := range d.Dependencies.Dev {
			if !seenDev[spec.Name] {
				seenDev[spec.Name] = true
				plan.Dev = append(plan.Dev, spec)
			}
		}

		for _, reqID := range d.Requires {
			if m.Installed(reqID) {
				continue
			}
			req, err := reg.Get(reqID)
			if err != nil {
				return fmt.Errorf("capability %s requires %s: %w", d.ID, reqID, err)
			}
			if err := visit(req); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(desc); err != nil {
		return nil, err
	}
	return plan, nil
}

// Batches splits specs into install batches of at most maxBatch entries.
// Workspace-local specs (workspace:, file:, link:, portal: protocols) are
// grouped into the final batch so their symlinks are created after every
// registry package they may point at is present.
func Batches(specs []capability.DependencySpec, maxBatch int) [][]capability.DependencySpec {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	var remote, local []capability.DependencySpec
	for _, spec := range specs {
		if IsWorkspaceLocal(spec) {
			local = append(local, spec)
		} else {
			remote = append(remote, spec)
		}
	}

	var batches [][]capability.DependencySpec
	for len(remote) > 0 {
		n := maxBatch
		if len(remote) < n {
			n = len(remote)
		}
		batches = append(batches, remote[:n])
		remote = remote[n:]
	}
	if len(local) > 0 {
		batches = append(batches, local)
	}
	return batches
}

// IsWorkspaceLocal reports whether a spec resolves inside the workspace
// rather than a package registry.
func IsWorkspaceLocal(spec capability.DependencySpec) bool {
	for _, prefix := range []string{"workspace:", "file:", "link:", "portal:"} {
		if strings.HasPrefix(spec.Version, prefix) {
			return true
		}
	}
	return false
}
