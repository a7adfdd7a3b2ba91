// Package models holds the process-wide registry of model ids a caller may
// select. The registry is built once at startup and is read-only afterwards.
package models

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor describes one selectable upstream model.
type Descriptor struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Default     bool   `json:"is_default" yaml:"default"`
}

// Registry is an immutable, ordered set of Descriptors.
type Registry struct {
	list []Descriptor
	byID map[string]int
	def  int
}

// registryFile is the on-disk YAML layout:
//
//	models:
//	  - id: llama-3.3-70b-versatile
//	    display_name: Llama 3.3 70B
//	    default: true
type registryFile struct {
	Models []Descriptor `yaml:"models"`
}

// New builds a Registry from descs. Ids must be non-empty and unique and at
// most one entry may be the default.
func New(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		list: make([]Descriptor, 0, len(descs)),
		byID: make(map[string]int, len(descs)),
		def:  -1,
	}
	for i, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("model %d: id is required", i)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate id", d.ID)
		}
		if d.DisplayName == "" {
			d.DisplayName = d.ID
		}
		if d.Default {
			if r.def >= 0 {
				return nil, fmt.Errorf("model %q: only one default allowed (already %q)", d.ID, r.list[r.def].ID)
			}
			r.def = len(r.list)
		}
		r.byID[d.ID] = len(r.list)
		r.list = append(r.list, d)
	}
	return r, nil
}

// Empty returns a registry with no entries, which disables model selection.
func Empty() *Registry {
	r, _ := New(nil)
	return r
}

// Load reads a YAML registry file. An empty path yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing model registry: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, errors.New("model registry has no models")
	}
	return New(f.Models)
}

// Selectable reports whether callers may (and must) pick a model.
func (r *Registry) Selectable() bool {
	return r != nil && len(r.list) > 0
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.list[i], true
}

// Default returns the entry flagged as default, if any.
func (r *Registry) Default() (Descriptor, bool) {
	if r == nil || r.def < 0 {
		return Descriptor{}, false
	}
	return r.list[r.def], true
}

// All returns a copy of the registered descriptors in file order.
func (r *Registry) All() []Descriptor {
	if r == nil {
		return []Descriptor{}
	}
	out := make([]Descriptor, len(r.list))
	copy(out, r.list)
	return out
}
