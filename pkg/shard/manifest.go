package shard

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProgramChunkStore is the only program the host can install.
const ProgramChunkStore = "chunk-store"

// ManifestVersion is the install manifest version this host understands.
const ManifestVersion = 1

// Manifest is the install payload: a YAML document naming the program to run
// in a unit.
//
// Example:
//
//	program: chunk-store
//	version: 1
//	labels:
//	  tier: standard
type Manifest struct {
	Program string            `yaml:"program" json:"program"`
	Version int               `yaml:"version" json:"version"`
	Labels  map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// DefaultManifest returns the encoded manifest for the chunk store program.
func DefaultManifest() []byte {
	data, err := yaml.Marshal(Manifest{Program: ProgramChunkStore, Version: ManifestVersion})
	if err != nil {
		panic(fmt.Sprintf("encode default manifest: %v", err))
	}
	return data
}

// ParseManifest decodes and validates an install payload.
func ParseManifest(payload []byte) (Manifest, error) {
	var m Manifest
	if len(payload) == 0 {
		return m, fmt.Errorf("empty install payload")
	}
	if err := yaml.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("decode install payload: %w", err)
	}
	if m.Program != ProgramChunkStore {
		return m, fmt.Errorf("unsupported program %q", m.Program)
	}
	if m.Version != ManifestVersion {
		return m, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return m, nil
}
