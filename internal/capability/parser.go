package capability

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DescriptorFileName is the file the registry looks for in each capability
// directory.
const DescriptorFileName = "capability.yaml"

// ParseFile reads and parses a capability descriptor. The descriptor is
// schema-validated first so a structurally invalid file is a load-time
// error, never a runtime surprise.
func ParseFile(path string) (*Descriptor, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	result, err := Validate(data)
	if err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("descriptor %s is invalid: %s", path, result.Summary())
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing descriptor %s: %w", path, err)
	}

	return &d, nil
}

// readFile reads the contents of a file at the given path.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}
