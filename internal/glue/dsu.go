package glue

import "sort"

// dsu is a union-find over member keys. The lexicographically smallest
// key in a component is kept as its root, so component order never
// depends on union order.
type dsu struct {
	parent map[string]string
	size   map[string]int
}

func newDSU(keys []string) *dsu {
	d := &dsu{
		parent: make(map[string]string, len(keys)),
		size:   make(map[string]int, len(keys)),
	}
	for _, k := range keys {
		d.parent[k] = k
		d.size[k] = 1
	}
	return d
}

func (d *dsu) find(k string) string {
	root := k
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[k] != root {
		k, d.parent[k] = d.parent[k], root
	}
	return root
}

func (d *dsu) union(a, b string) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
}

func (d *dsu) componentSize(k string) int {
	return d.size[d.find(k)]
}

// components returns the partition, components ordered by root key and
// members sorted within each.
func (d *dsu) components() [][]string {
	byRoot := make(map[string][]string)
	for k := range d.parent {
		root := d.find(k)
		byRoot[root] = append(byRoot[root], k)
	}
	roots := make([]string, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	out := make([][]string, len(roots))
	for i, r := range roots {
		sort.Strings(byRoot[r])
		out[i] = byRoot[r]
	}
	return out
}
