package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// File is the on-disk catalog layout.
type File struct {
	Ecosystems []EcosystemSpec `yaml:"ecosystems"`
	Workflows  []WorkflowSpec  `yaml:"workflows"`
	Engines    []EngineSpec    `yaml:"engines"`
}

type EcosystemSpec struct {
	Key    string   `yaml:"key"`
	Parent string   `yaml:"parent,omitempty"`
	Allow  []string `yaml:"allow,omitempty"`
	Deny   []string `yaml:"deny,omitempty"`
}

type WorkflowSpec struct {
	Key      string   `yaml:"key"`
	Category string   `yaml:"category"`
	Input    []string `yaml:"input,omitempty"`
}

type EngineSpec struct {
	Key        string   `yaml:"key"`
	Disabled   bool     `yaml:"disabled,omitempty"`
	Order      int      `yaml:"order"`
	Workflows  []string `yaml:"workflows"`
	Ecosystems []string `yaml:"ecosystems,omitempty"`
	Constraint string   `yaml:"constraint,omitempty"`
}

// ParseFile decodes a YAML catalog.
func ParseFile(input []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(input, &f); err != nil {
		return File{}, fmt.Errorf("decode catalog: %w", err)
	}
	return f, nil
}

// DefaultFile returns the catalog shipped with the binary.
func DefaultFile() File {
	f, err := ParseFile(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return f
}

// LoadPath reads the catalog at path, or the embedded default when path is empty.
func LoadPath(path string) (*Generation, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFile().Build()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	f, err := ParseFile(raw)
	if err != nil {
		return nil, err
	}
	return f.Build()
}

// Build validates the file and produces an unpublished Generation.
func (f File) Build() (*Generation, error) {
	cfgErr := &ConfigError{}

	workflows := make(map[string]WorkflowDefinition, len(f.Workflows))
	for _, spec := range f.Workflows {
		key := NormalizeKey(spec.Key)
		if key == "" {
			cfgErr.Add("workflow with empty key")
			continue
		}
		if _, dup := workflows[key]; dup {
			cfgErr.Add(fmt.Sprintf("workflow %q declared twice", key))
			continue
		}
		cat := Category(NormalizeKey(spec.Category))
		if cat != CategoryImage && cat != CategoryVideo {
			cfgErr.Add(fmt.Sprintf("workflow %q has unknown category %q", key, spec.Category))
		}
		workflows[key] = WorkflowDefinition{Key: key, Category: cat, Input: append([]string(nil), spec.Input...)}
	}

	defs := make([]Ecosystem, 0, len(f.Ecosystems))
	for _, spec := range f.Ecosystems {
		defs = append(defs, Ecosystem{Key: spec.Key, Parent: spec.Parent, Allow: spec.Allow, Deny: spec.Deny})
	}
	reg, err := NewRegistry(defs, workflows)
	if err != nil {
		if regErr, ok := err.(*ConfigError); ok {
			cfgErr.Issues = append(cfgErr.Issues, regErr.Issues...)
		} else {
			cfgErr.Add(err.Error())
		}
	}

	engines := make([]Engine, 0, len(f.Engines))
	seen := map[string]struct{}{}
	for _, spec := range f.Engines {
		e, err := newEngine(spec.Key, spec.Disabled, spec.Order, spec.Workflows, spec.Ecosystems, spec.Constraint)
		if err != nil {
			cfgErr.Add(err.Error())
			continue
		}
		if e.Key == "" {
			cfgErr.Add("engine with empty key")
			continue
		}
		if _, dup := seen[e.Key]; dup {
			cfgErr.Add(fmt.Sprintf("engine %q declared twice", e.Key))
			continue
		}
		seen[e.Key] = struct{}{}
		for _, wf := range e.Workflows {
			if _, ok := workflows[wf]; !ok {
				cfgErr.Add(fmt.Sprintf("engine %q references unknown workflow %q", e.Key, wf))
			}
		}
		if reg != nil {
			for _, eco := range e.Ecosystems {
				if !reg.Has(eco) {
					cfgErr.Add(fmt.Sprintf("engine %q references unknown ecosystem %q", e.Key, eco))
				}
			}
		}
		engines = append(engines, e)
	}

	if err := cfgErr.OrNil(); err != nil {
		return nil, err
	}
	return newGeneration(0, reg, workflows, engines), nil
}
