package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifest is the on-disk shape of an agent manifest file: a list of
// descriptors so a single file can declare a small fleet of agents.
type manifest struct {
	Agents []Descriptor `yaml:"agents"`
}

// LoadManifest parses a YAML agent manifest from path and returns the
// descriptors it declares, keyed by name for O(1) lookup.
func LoadManifest(path string) (map[Ident]Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest parses YAML manifest bytes into a name-keyed descriptor map.
// Exposed separately from LoadManifest so callers can embed manifests or
// receive them over the wire without touching the filesystem.
func ParseManifest(raw []byte) (map[Ident]Descriptor, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("agent: parse manifest: %w", err)
	}
	out := make(map[Ident]Descriptor, len(m.Agents))
	for _, d := range m.Agents {
		if d.Name == "" {
			return nil, fmt.Errorf("agent: manifest entry missing name")
		}
		out[d.Name] = d
	}
	return out, nil
}
