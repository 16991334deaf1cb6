package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modkit-labs/modkit/internal/capability"
)

// keysEnsure makes sure every declared key exists in a platform
// configuration file, adding missing ones with their policy-default
// values. Existing values are never overwritten. Keys are dotted paths
// into JSON/YAML documents, or literal keys in .properties files.
func (e *Engine) keysEnsure(op capability.PatchSpec) ([]byte, string, error) {
	format, err := fileFormat(op.File)
	if err != nil {
		return nil, "", err
	}

	data, err := e.readFile(op.File)
	if err != nil {
		return nil, "", err
	}

	if format == formatProps {
		return ensurePropertiesKeys(data, op)
	}
	return ensureStructuredKeys(data, format, op)
}

func ensureStructuredKeys(data []byte, format string, op capability.PatchSpec) ([]byte, string, error) {
	doc, err := parseStructured(data, format, op.File)
	if err != nil {
		return nil, "", err
	}

	changed := false
	for _, key := range sortedKeys(op.Keys) {
		added, err := ensurePath(doc, strings.Split(key, "."), op.Keys[key])
		if err != nil {
			return nil, "", fmt.Errorf("key %q in %s: %w", key, op.File, err)
		}
		changed = changed || added
	}

	if !changed {
		return nil, "all keys already present", nil
	}

	out, err := serializeStructured(doc, format)
	if err != nil {
		return nil, "", fmt.Errorf("re-serializing %s: %w", op.File, err)
	}
	return out, "", nil
}

// ensurePath walks the dotted path, creating intermediate maps, and sets
// the default value only when the leaf key is absent.
func ensurePath(doc map[string]any, path []string, value any) (bool, error) {
	key := path[0]
	if len(path) == 1 {
		if _, exists := doc[key]; exists {
			return false, nil
		}
		doc[key] = value
		return true, nil
	}

	child, exists := doc[key]
	if !exists {
		next := make(map[string]any)
		doc[key] = next
		return ensurePath(next, path[1:], value)
	}

	childMap, ok := child.(map[string]any)
	if !ok {
		return false, fmt.Errorf("segment %q is not an object", key)
	}
	return ensurePath(childMap, path[1:], value)
}

// ensurePropertiesKeys appends missing key=value lines to a .properties
// file, preserving existing content byte for byte.
func ensurePropertiesKeys(data []byte, op capability.PatchSpec) ([]byte, string, error) {
	existing := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if k, _, ok := strings.Cut(line, "="); ok {
			existing[strings.TrimSpace(k)] = true
		}
	}

	var additions []string
	for _, key := range sortedKeys(op.Keys) {
		if existing[key] {
			continue
		}
		additions = append(additions, fmt.Sprintf("%s=%v", key, op.Keys[key]))
	}

	if len(additions) == 0 {
		return nil, "all keys already present", nil
	}

	out := string(data)
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += strings.Join(additions, "\n") + "\n"
	return []byte(out), "", nil
}

// sortedKeys returns map keys in sorted order so key insertion is
// deterministic across runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
