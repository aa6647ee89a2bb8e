package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/menta2k/image-features/pkg/tensor"
)

// ErrNotFound is returned by Read for unknown names.
var ErrNotFound = errors.New("group not found")

// Exists reports whether a group is stored under name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", name, err)
	}
	return true, nil
}

// Keys returns every stored name in lexicographic order. Dataset payloads
// are not read.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.queryNames(ctx, `SELECT name FROM groups ORDER BY name ASC`)
}

// KeysWithPrefix returns the stored names starting with prefix.
func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.queryNames(ctx, `
		SELECT name FROM groups
		WHERE substr(name, 1, length(?1)) = ?1
		ORDER BY name ASC
	`, prefix)
}

// KeySet returns the stored names as a set.
func (s *Store) KeySet(ctx context.Context) (map[string]struct{}, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

func (s *Store) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return names, nil
}

// Read loads the group stored under name.
func (s *Store) Read(ctx context.Context, name string) (Group, error) {
	ok, err := s.Exists(ctx, name)
	if err != nil {
		return Group{}, err
	}
	if !ok {
		return Group{}, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}

	g := Group{Name: name, Datasets: map[string]*tensor.Array{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, dtype, shape, data FROM datasets WHERE group_name = ? ORDER BY kind ASC
	`, name)
	if err != nil {
		return Group{}, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, dtype, shape string
		var blob []byte
		if err := rows.Scan(&kind, &dtype, &shape, &blob); err != nil {
			return Group{}, fmt.Errorf("read %s: %w", name, err)
		}
		dims, err := tensor.DecodeShape(shape)
		if err != nil {
			return Group{}, fmt.Errorf("read %s/%s: %w", name, kind, err)
		}
		arr, err := tensor.Decode(tensor.DType(dtype), dims, blob)
		if err != nil {
			return Group{}, fmt.Errorf("read %s/%s: %w", name, kind, err)
		}
		g.Datasets[kind] = arr
	}
	if err := rows.Err(); err != nil {
		return Group{}, fmt.Errorf("read %s: %w", name, err)
	}

	attrs, err := s.db.QueryContext(ctx, `
		SELECT kind, name, value FROM attributes WHERE group_name = ?
	`, name)
	if err != nil {
		return Group{}, fmt.Errorf("read %s attributes: %w", name, err)
	}
	defer attrs.Close()
	for attrs.Next() {
		var kind, attr string
		var value float64
		if err := attrs.Scan(&kind, &attr, &value); err != nil {
			return Group{}, fmt.Errorf("read %s attributes: %w", name, err)
		}
		if g.Attrs == nil {
			g.Attrs = map[string]map[string]float64{}
		}
		if g.Attrs[kind] == nil {
			g.Attrs[kind] = map[string]float64{}
		}
		g.Attrs[kind][attr] = value
	}
	return g, attrs.Err()
}

// Count returns the number of stored groups.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}
