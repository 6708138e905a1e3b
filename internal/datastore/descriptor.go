package datastore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resource is one downloadable archive advertised by a source descriptor.
type Resource struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	RemoteURL string         `json:"remote_url,omitempty"`
	Hash      string         `json:"hash"`
	Bytes     int64          `json:"bytes"`
	Parts     map[string]any `json:"parts"`
}

// DownloadURL prefers remote_url, which cached descriptors set when the
// plain path has been rewritten to a local location.
func (r Resource) DownloadURL() string {
	if r.RemoteURL != "" {
		return r.RemoteURL
	}
	return r.Path
}

// Matches reports whether every filter entry equals the string form of the
// corresponding partition part.
func (r Resource) Matches(f Filter) bool {
	for k, v := range f {
		pv, ok := r.Parts[k]
		if !ok || fmt.Sprint(pv) != v {
			return false
		}
	}
	return true
}

// Descriptor is a parsed datapackage document for one source release.
type Descriptor struct {
	Source    string
	DOI       string
	Resources []Resource

	raw []byte
}

type descriptorDoc struct {
	Resources []Resource `json:"resources"`
}

// ParseDescriptor parses and structurally validates a datapackage document.
func ParseDescriptor(raw []byte, source, doi string) (*Descriptor, error) {
	var doc descriptorDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor for %s/%s: %w", source, doi, err)
	}
	var problems []string
	for i, res := range doc.Resources {
		if res.Name == "" {
			problems = append(problems, fmt.Sprintf("resource %d has no name", i))
		}
		if res.Path == "" && res.RemoteURL == "" {
			problems = append(problems, fmt.Sprintf("resource %q has no path", res.Name))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid descriptor for %s/%s:\n  %s", source, doi, strings.Join(problems, "\n  "))
	}
	return &Descriptor{Source: source, DOI: doi, Resources: doc.Resources, raw: raw}, nil
}

// JSON returns the descriptor document exactly as received, so caching it
// round-trips byte for byte.
func (d *Descriptor) JSON() []byte {
	return d.raw
}

// Get returns the named resource.
func (d *Descriptor) Get(name string) (Resource, error) {
	for _, res := range d.Resources {
		if res.Name == name {
			return res, nil
		}
	}
	return Resource{}, fmt.Errorf("resource %s not found for %s/%s", name, d.Source, d.DOI)
}

// Select returns resources matching the filter, in descriptor order.
func (d *Descriptor) Select(f Filter) []Resource {
	var out []Resource
	for _, res := range d.Resources {
		if res.Matches(f) {
			out = append(out, res)
		}
	}
	return out
}

// Key returns the cache key for the named resource of this release.
func (d *Descriptor) Key(name string) ResourceKey {
	return ResourceKey{Source: d.Source, DOI: d.DOI, Name: name}
}
