package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"reflect"
	"strings"

	"dario.cat/mergo"
	"go.yaml.in/yaml/v3"

	"github.com/modkit-labs/modkit/internal/capability"
)

// Structured formats data.merge and keys.ensure understand.
const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatProps = "properties"
)

// dataMerge deep-merges op.Data into the file's parsed representation and
// re-serializes in the original format. The op's values win over existing
// ones for the keys it declares; keys it does not declare are untouched.
// A merge that changes nothing is reported as already-present.
func (e *Engine) dataMerge(op capability.PatchSpec) ([]byte, string, error) {
	format, err := fileFormat(op.File)
	if err != nil {
		return nil, "", err
	}
	if format == formatProps {
		return nil, "", fmt.Errorf("data.merge does not support properties files (use keys.ensure): %s", op.File)
	}

	data, err := e.readFile(op.File)
	if err != nil {
		return nil, "", err
	}

	parsed, err := parseStructured(data, format, op.File)
	if err != nil {
		return nil, "", err
	}

	// Round-trip both copies through JSON so the equality check below
	// compares like value types regardless of the source format.
	current, err := deepCopy(parsed)
	if err != nil {
		return nil, "", fmt.Errorf("normalizing %s document: %w", op.File, err)
	}
	merged, err := deepCopy(current)
	if err != nil {
		return nil, "", fmt.Errorf("copying %s document: %w", op.File, err)
	}
	incoming, err := deepCopy(op.Data)
	if err != nil {
		return nil, "", fmt.Errorf("normalizing merge data: %w", err)
	}
	if err := mergo.Merge(&merged, incoming, mergo.WithOverride); err != nil {
		return nil, "", fmt.Errorf("merging into %s: %w", op.File, err)
	}

	if reflect.DeepEqual(current, merged) {
		return nil, "merge produced no changes", nil
	}

	out, err := serializeStructured(merged, format)
	if err != nil {
		return nil, "", fmt.Errorf("re-serializing %s: %w", op.File, err)
	}
	return out, "", nil
}

// fileFormat maps a file name to the structured format it holds.
func fileFormat(file string) (string, error) {
	switch strings.ToLower(path.Ext(file)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".properties":
		return formatProps, nil
	default:
		return "", fmt.Errorf("unsupported structured file type: %s", file)
	}
}

func parseStructured(data []byte, format, file string) (map[string]any, error) {
	doc := make(map[string]any)
	switch format {
	case formatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	}
	return doc, nil
}

func serializeStructured(doc map[string]any, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatYAML:
		return yaml.Marshal(doc)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// deepCopy clones a structured document via a JSON round trip so the
// original can be compared against the merged result.
func deepCopy(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	// Normalize the source the same way so DeepEqual compares like types.
	return out, nil
}
