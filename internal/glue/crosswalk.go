package glue

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/gridetl/internal/schema"
)

//go:embed crosswalk.yaml
var crosswalkYAML []byte

// crosswalk is the static record of cross-source identity links,
// versioned with the release. It is the only way records lacking a
// match key (the FERC plants) join an entity, and it is authoritative:
// members it separates must never share an entity id.
type crosswalk struct {
	Version  string               `yaml:"version"`
	Entities map[string][]cwGroup `yaml:"entities"`
}

type cwGroup struct {
	Members []cwMember `yaml:"members"`
}

type cwMember struct {
	Source string `yaml:"source"`
	ID     string `yaml:"id"`
}

func loadCrosswalk(catalog *schema.Catalog) (*crosswalk, error) {
	return parseCrosswalk(crosswalkYAML, catalog)
}

func parseCrosswalk(raw []byte, catalog *schema.Catalog) (*crosswalk, error) {
	var cw crosswalk
	if err := yaml.Unmarshal(raw, &cw); err != nil {
		return nil, fmt.Errorf("parsing crosswalk: %w", err)
	}
	if cw.Version == "" {
		return nil, fmt.Errorf("crosswalk has no version")
	}
	known := make(map[string]bool)
	for _, s := range catalog.Sources() {
		known[s] = true
	}
	for kind, groups := range cw.Entities {
		if _, err := catalog.EntityTable(kind); err != nil {
			return nil, fmt.Errorf("crosswalk: %w", err)
		}
		seen := make(map[string]bool)
		for _, grp := range groups {
			if len(grp.Members) < 2 {
				return nil, fmt.Errorf("crosswalk %s group needs at least two members", kind)
			}
			for _, m := range grp.Members {
				if m.Source == "" || m.ID == "" {
					return nil, fmt.Errorf("crosswalk %s group has a member without source or id", kind)
				}
				if !known[m.Source] {
					return nil, fmt.Errorf("crosswalk names unknown source %q", m.Source)
				}
				key := m.Source + "\x1f" + m.ID
				if seen[key] {
					return nil, fmt.Errorf("crosswalk lists %s %s:%s twice", kind, m.Source, m.ID)
				}
				seen[key] = true
			}
		}
	}
	return &cw, nil
}

func (cw *crosswalk) groups(kind string) []cwGroup {
	return cw.Entities[kind]
}
