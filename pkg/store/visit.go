package store

import (
	"context"
	"iter"
	"sort"

	"github.com/menta2k/image-features/pkg/tensor"
)

// Entry is one node yielded by Visit. Group entries have an empty Kind;
// dataset entries carry the array and its attributes.
type Entry struct {
	// Path is the slash separated location, "group" or "group/kind".
	Path  string
	Group string
	Kind  string
	// Stored is false for intermediate path prefixes that exist only
	// because some stored name contains a '/'.
	Stored bool
	Array  *tensor.Array
	Attrs  map[string]float64
}

// IsDataset reports whether the entry is a dataset rather than a group.
func (e Entry) IsDataset() bool {
	return e.Kind != ""
}

// Visit walks the store depth first in lexicographic order. For a stored
// name "a/b.jpg" it yields the group "a", the group "a/b.jpg" and then each
// of its datasets. Iteration stops at the first error, which is yielded.
func (s *Store) Visit(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		keys, err := s.Keys(ctx)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		emitted := make(map[string]bool)

		for _, name := range keys {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			for _, prefix := range prefixes(name) {
				if emitted[prefix] {
					continue
				}
				emitted[prefix] = true
				if !yield(Entry{Path: prefix, Group: prefix}, nil) {
					return
				}
			}
			emitted[name] = true
			if !yield(Entry{Path: name, Group: name, Stored: true}, nil) {
				return
			}

			g, err := s.Read(ctx, name)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			kinds := make([]string, 0, len(g.Datasets))
			for k := range g.Datasets {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				e := Entry{
					Path:   name + "/" + k,
					Group:  name,
					Kind:   k,
					Stored: true,
					Array:  g.Datasets[k],
					Attrs:  g.Attrs[k],
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// prefixes returns the proper slash prefixes of name, shortest first.
func prefixes(name string) []string {
	var out []string
	for i := 0; i < len(name); i++ {
		if name[i] == '/' && i > 0 {
			out = append(out, name[:i])
		}
	}
	return out
}
