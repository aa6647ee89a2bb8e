package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// Group is the stored form of one image entry.
type Group struct {
	Name     string
	Datasets map[string]*tensor.Array
	// Attrs maps dataset kind to its scalar attributes.
	Attrs map[string]map[string]float64
}

// GroupFromPrediction converts an extraction result into a group.
func GroupFromPrediction(name string, pred *types.Prediction) Group {
	g := Group{Name: name, Datasets: pred.Arrays}
	if pred.HasUncertainty && pred.Has(types.KindKeypoints) {
		g.Attrs = map[string]map[string]float64{
			types.KindKeypoints: {types.AttrUncertainty: pred.Uncertainty},
		}
	}
	return g
}

// Write stores a prediction under name, replacing any existing group.
func (s *Store) Write(ctx context.Context, name string, pred *types.Prediction) error {
	return s.WriteGroup(ctx, GroupFromPrediction(name, pred))
}

// WriteGroup stores g, replacing any existing group with the same name.
//
// If the database runs out of space the group is removed before the error
// is returned, so no partial group is left behind for that name.
func (s *Store) WriteGroup(ctx context.Context, g Group) error {
	err := s.writeGroup(ctx, g)
	if err == nil {
		return nil
	}
	if IsStorageExhausted(err) {
		if derr := s.Delete(ctx, g.Name); derr != nil {
			s.log.Warn().Err(derr).Str("name", g.Name).Msg("failed to remove partial group")
		}
		return fmt.Errorf("write %s: %w: %w", g.Name, types.ErrStorageExhausted, err)
	}
	return fmt.Errorf("write %s: %w", g.Name, err)
}

func (s *Store) writeGroup(ctx context.Context, g Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := deleteGroup(ctx, tx, g.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (name, seq)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM groups))
	`, g.Name); err != nil {
		return err
	}

	kinds := make([]string, 0, len(g.Datasets))
	for kind := range g.Datasets {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		if err := insertDataset(ctx, tx, g.Name, kind, g.Datasets[kind]); err != nil {
			return err
		}
	}
	for kind, attrs := range g.Attrs {
		if _, ok := g.Datasets[kind]; !ok {
			return fmt.Errorf("attribute on missing dataset %q", kind)
		}
		for attr, value := range attrs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attributes (group_name, kind, name, value) VALUES (?, ?, ?, ?)
			`, g.Name, kind, attr, value); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func insertDataset(ctx context.Context, tx *sql.Tx, group, kind string, a *tensor.Array) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (group_name, kind, dtype, shape, data) VALUES (?, ?, ?, ?, ?)
	`, group, kind, string(a.DType), tensor.EncodeShape(a.Shape), a.Encode())
	return err
}

// Delete removes the group for name and all of its datasets. Deleting a
// missing name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := deleteGroup(ctx, tx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return tx.Commit()
}

// deleteGroup does not rely on foreign key cascades, which are a
// per-connection setting.
func deleteGroup(ctx context.Context, tx *sql.Tx, name string) error {
	for _, q := range []string{
		`DELETE FROM attributes WHERE group_name = ?`,
		`DELETE FROM datasets WHERE group_name = ?`,
		`DELETE FROM groups WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return err
		}
	}
	return nil
}
