package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

func createTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.db")
	s, err := OpenWithConfig(path, Config{Driver: driver})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func localPrediction(n int) *types.Prediction {
	kp := make([]float32, n*2)
	desc := make([]float32, 4*n)
	scores := make([]float32, n)
	for i := range kp {
		kp[i] = float32(i) + 0.5
	}
	for i := range desc {
		desc[i] = float32(i) / 10
	}
	for i := range scores {
		scores[i] = 1 - float32(i)/float32(n)
	}
	return &types.Prediction{
		Arrays: map[string]*tensor.Array{
			types.KindKeypoints:   tensor.FromFloat32(kp, n, 2),
			types.KindDescriptors: tensor.FromFloat32(desc, 4, n),
			types.KindScores:      tensor.FromFloat32(scores, n),
			types.KindImageSize:   tensor.FromInt64([]int64{640, 480}, 2),
		},
		Uncertainty:    1.5,
		HasUncertainty: true,
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := OpenWithConfig(filepath.Join(t.TempDir(), "x.db"), Config{Driver: "postgres"})
	assert.Error(t, err)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			s := createTestStore(t, driver)
			ctx := context.Background()

			pred := localPrediction(3)
			require.NoError(t, s.Write(ctx, "db/1.jpg", pred))

			g, err := s.Read(ctx, "db/1.jpg")
			require.NoError(t, err)
			assert.Len(t, g.Datasets, 4)

			kp := g.Datasets[types.KindKeypoints]
			assert.Equal(t, tensor.Float32, kp.DType)
			assert.Equal(t, []int{3, 2}, kp.Shape)
			assert.Equal(t, pred.Arrays[types.KindKeypoints].Float32s(), kp.Float32s())

			size := g.Datasets[types.KindImageSize]
			assert.Equal(t, []int64{640, 480}, size.Int64s())

			assert.InDelta(t, 1.5, g.Attrs[types.KindKeypoints][types.AttrUncertainty], 1e-12)
		})
	}
}

func TestWrite_Float16Payload(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	desc := tensor.FromFloat32([]float32{0.25, -1, 2.5, 0}, 2, 2).Downcast()
	pred := &types.Prediction{Arrays: map[string]*tensor.Array{types.KindGlobalDescriptor: desc}}
	require.NoError(t, s.Write(ctx, "q.jpg", pred))

	g, err := s.Read(ctx, "q.jpg")
	require.NoError(t, err)
	got := g.Datasets[types.KindGlobalDescriptor]
	assert.Equal(t, tensor.Float16, got.DType)
	assert.Equal(t, []float32{0.25, -1, 2.5, 0}, got.Float32s())
	assert.Nil(t, g.Attrs)
}

func TestWrite_OverwriteReplacesGroup(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "a.jpg", localPrediction(5)))

	replacement := &types.Prediction{Arrays: map[string]*tensor.Array{
		types.KindGlobalDescriptor: tensor.FromFloat32([]float32{1, 0}, 2),
	}}
	require.NoError(t, s.Write(ctx, "a.jpg", replacement))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := s.Read(ctx, "a.jpg")
	require.NoError(t, err)
	assert.Len(t, g.Datasets, 1)
	assert.Contains(t, g.Datasets, types.KindGlobalDescriptor)
	assert.Nil(t, g.Attrs, "attributes of the replaced group must be gone")
}

func TestKeys_SortedAndPrefixed(t *testing.T) {
	s := createTestStore(t, DriverPureGo)
	ctx := context.Background()

	for _, name := range []string{"query/b.jpg", "db/2.jpg", "db/1.jpg"} {
		require.NoError(t, s.Write(ctx, name, localPrediction(1)))
	}

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db/1.jpg", "db/2.jpg", "query/b.jpg"}, keys)

	db, err := s.KeysWithPrefix(ctx, "db/")
	require.NoError(t, err)
	assert.Equal(t, []string{"db/1.jpg", "db/2.jpg"}, db)

	set, err := s.KeySet(ctx)
	require.NoError(t, err)
	assert.Contains(t, set, "query/b.jpg")
}

func TestKeys_Empty(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRead_NotFound(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	_, err := s.Read(context.Background(), "missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "a.jpg", localPrediction(2)))
	require.NoError(t, s.Delete(ctx, "a.jpg"))
	require.NoError(t, s.Delete(ctx, "never-stored.jpg"))

	ok, err := s.Exists(ctx, "a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM datasets`).Scan(&n))
	assert.Zero(t, n)
}

func TestReopen_PersistsGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "a.jpg", localPrediction(2)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Exists(ctx, "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Positive(t, s.Size())
}

func TestWrite_StorageExhausted(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "small.jpg", localPrediction(2)))

	var pages int
	require.NoError(t, s.db.QueryRow(`PRAGMA page_count`).Scan(&pages))
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA max_page_count = %d", pages+2))
	require.NoError(t, err)

	big := make([]float32, 1<<20)
	pred := &types.Prediction{Arrays: map[string]*tensor.Array{
		types.KindDescriptors: tensor.FromFloat32(big, 256, 4096),
	}}
	err = s.Write(ctx, "big.jpg", pred)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorageExhausted)
	assert.True(t, IsStorageExhausted(err))

	ok, err := s.Exists(ctx, "big.jpg")
	require.NoError(t, err)
	assert.False(t, ok, "no partial group may survive")

	ok, err = s.Exists(ctx, "small.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsStorageExhausted(t *testing.T) {
	assert.False(t, IsStorageExhausted(nil))
	assert.False(t, IsStorageExhausted(errors.New("constraint failed")))
	assert.True(t, IsStorageExhausted(fmt.Errorf("write: %w", syscall.ENOSPC)))
	assert.True(t, IsStorageExhausted(errors.New("database or disk is full")))
}

func TestVisit_YieldsPrefixesGroupsAndDatasets(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	global := func() *types.Prediction {
		return &types.Prediction{Arrays: map[string]*tensor.Array{
			types.KindGlobalDescriptor: tensor.FromFloat32([]float32{1, 0, 0}, 3),
			types.KindImageSize:        tensor.FromInt64([]int64{4, 3}, 2),
		}}
	}
	require.NoError(t, s.Write(ctx, "db/x/1.jpg", global()))
	require.NoError(t, s.Write(ctx, "db/2.jpg", global()))
	require.NoError(t, s.Write(ctx, "top.jpg", global()))

	var paths []string
	var virtual []string
	for e, err := range s.Visit(ctx) {
		require.NoError(t, err)
		paths = append(paths, e.Path)
		if !e.Stored {
			virtual = append(virtual, e.Path)
		}
		if e.IsDataset() {
			assert.NotNil(t, e.Array)
		}
	}

	assert.Equal(t, []string{
		"db",
		"db/2.jpg",
		"db/2.jpg/global_descriptor",
		"db/2.jpg/image_size",
		"db/x",
		"db/x/1.jpg",
		"db/x/1.jpg/global_descriptor",
		"db/x/1.jpg/image_size",
		"top.jpg",
		"top.jpg/global_descriptor",
		"top.jpg/image_size",
	}, paths)
	assert.Equal(t, []string{"db", "db/x"}, virtual)
}

func TestVisit_StopsEarly(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "a.jpg", localPrediction(1)))
	require.NoError(t, s.Write(ctx, "b.jpg", localPrediction(1)))

	count := 0
	for range s.Visit(ctx) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestRuns(t *testing.T) {
	s := createTestStore(t, DriverCGO)
	ctx := context.Background()

	id, err := s.BeginRun(ctx, "saliency_aachen")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, id, 3, 2))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "saliency_aachen", runs[0].Preset)
	assert.Equal(t, 3, runs[0].Extracted)
	assert.Equal(t, 2, runs[0].Skipped)
	assert.False(t, runs[0].FinishedAt.IsZero())
}
