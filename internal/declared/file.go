// Package declared loads declared tasks from a YAML file into the registry
// and keeps them in sync with the file while the process runs.
package declared

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"taskcron/internal/core"
)

// File is the on-disk shape of a declarations file:
//
//	declarations:
//	  - target: reports.nightly
//	    expression: "0 3 * * *"
//	    description: Nightly report
type File struct {
	Declarations []Entry `yaml:"declarations"`
}

// Entry declares one task. An empty expression means every minute.
type Entry struct {
	Target      string `yaml:"target"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// Parse decodes declarations from YAML, rejecting unknown fields.
func Parse(data []byte) ([]core.Declaration, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	out := make([]core.Declaration, 0, len(f.Declarations))
	for i, e := range f.Declarations {
		if e.Target == "" {
			return nil, fmt.Errorf("declaration %d: target is required", i)
		}
		out = append(out, core.Declaration{
			Target:      e.Target,
			Expression:  e.Expression,
			Description: e.Description,
		})
	}
	return out, nil
}

// ParseFile reads and parses a declarations file.
func ParseFile(path string) ([]core.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decls, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// Load parses path and replaces the registry's declarations with its content.
func Load(path string, registry *core.Registry) error {
	decls, err := ParseFile(path)
	if err != nil {
		return err
	}
	return registry.ReplaceDeclarations(decls)
}
