// Package datastore manages retrieval and caching of raw source archives.
//
// Each source publishes a versioned descriptor (a datapackage document
// addressed by DOI) listing its downloadable resources. The datastore
// resolves descriptors, fetches resources through an ordered set of cache
// layers, validates checksums, and exposes a deterministic on-disk layout
// so external tooling can locate cached archives without invoking the
// pipeline.
package datastore

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ResourceKey identifies one cached archive: a named resource within a
// specific DOI-versioned release of a source.
type ResourceKey struct {
	Source string
	DOI    string
	Name   string
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.DOI, k.Name)
}

// RelPath is the key's path relative to a cache root. The DOI's slash is
// flattened so the layout stays two levels deep.
func (k ResourceKey) RelPath() string {
	return filepath.Join(k.Source, strings.ReplaceAll(k.DOI, "/", "-"), k.Name)
}

// Filter selects resources by their partition parts, e.g. year=2020.
type Filter map[string]string

// ParseFilter parses k1=v1,k2=v2 selector syntax.
func ParseFilter(s string) (Filter, error) {
	f := Filter{}
	if s == "" {
		return f, nil
	}
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid partition selector %q (want k=v)", kv)
		}
		f[k] = v
	}
	return f, nil
}

func (f Filter) String() string {
	if len(f) == 0 {
		return "(all)"
	}
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	// Deterministic order for logs and errors.
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
