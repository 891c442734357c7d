package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir scans a directory for capability descriptor files (*.yaml, *.yml)
// and parses each into a validated Capability. Services that prefer static
// publication drop descriptors here instead of registering at runtime.
func LoadDir(root string) ([]Capability, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Capability
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		cap, err := LoadFile(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		out = append(out, cap)
	}
	return out, nil
}

// LoadFile parses a single capability descriptor file.
func LoadFile(path string) (Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capability{}, err
	}
	var parsed descriptor
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Capability{}, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	cap := parsed.toCapability()
	if err := cap.Validate(); err != nil {
		return Capability{}, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return cap, nil
}

type descriptor struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Domain      string            `yaml:"domain"`
	Inputs      []descriptorField `yaml:"inputs"`
	Outputs     []descriptorField `yaml:"outputs"`
	Constraints map[string]any    `yaml:"constraints"`
	Protocols   []string          `yaml:"protocols"`
	Tags        []string          `yaml:"tags"`
}

type descriptorField struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Required    bool           `yaml:"required"`
	Constraints map[string]any `yaml:"constraints"`
}

func (d descriptor) toCapability() Capability {
	cap := Capability{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Domain:      d.Domain,
		Constraints: d.Constraints,
		Tags:        d.Tags,
	}
	for _, p := range d.Protocols {
		cap.Protocols = append(cap.Protocols, ProtocolKind(strings.ToLower(strings.TrimSpace(p))))
	}
	for _, f := range d.Inputs {
		cap.Inputs = append(cap.Inputs, f.toSchema())
	}
	for _, f := range d.Outputs {
		cap.Outputs = append(cap.Outputs, f.toSchema())
	}
	return cap
}

func (f descriptorField) toSchema() FieldSchema {
	return FieldSchema{
		Name:        f.Name,
		Type:        DataType(strings.ToLower(strings.TrimSpace(f.Type))),
		Description: f.Description,
		Required:    f.Required,
		Constraints: f.Constraints,
	}
}
