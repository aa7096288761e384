package vectorstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func point(id uint64, text string, vec ...float32) Point {
	return Point{ID: id, Vector: vec, Payload: Payload{Text: text}}
}

func TestChromemStore_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateCollection(ctx, "my_kb", 3))

	info, err := s.CollectionInfo(ctx, "my_kb")
	require.NoError(t, err)
	assert.Equal(t, &CollectionInfo{Name: "my_kb", PointsCount: 0, VectorSize: 3}, info)

	err = s.CreateCollection(ctx, "my_kb", 3)
	assert.ErrorIs(t, err, ErrCollectionExists)
	assert.True(t, IsStoreError(err))

	require.NoError(t, s.DeleteCollection(ctx, "my_kb"))

	_, err = s.CollectionInfo(ctx, "my_kb")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	err = s.DeleteCollection(ctx, "my_kb")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromemStore_CreateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assert.ErrorIs(t, s.CreateCollection(ctx, "", 3), ErrInvalidCollectionName)
	assert.ErrorIs(t, s.CreateCollection(ctx, "has space", 3), ErrInvalidCollectionName)
	assert.ErrorIs(t, s.CreateCollection(ctx, "zero", 0), ErrDimensionMismatch)
}

func TestChromemStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection(ctx, "books", 3))

	require.NoError(t, s.UpsertPoints(ctx, "books", []Point{
		point(0, "alpha", 1, 0, 0),
		point(1, "beta", 0, 1, 0),
		point(2, "gamma", 0.9, 0.1, 0),
	}))

	info, err := s.CollectionInfo(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.PointsCount)

	hits, err := s.SearchPoints(ctx, "books", SearchParams{Vector: []float32{1, 0, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(0), hits[0].ID)
	assert.Equal(t, "alpha", hits[0].Payload.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "gamma", hits[1].Payload.Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromemStore_UpsertReplacesSameID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection(ctx, "kb", 2))

	require.NoError(t, s.UpsertPoints(ctx, "kb", []Point{point(7, "old", 1, 0)}))
	require.NoError(t, s.UpsertPoints(ctx, "kb", []Point{point(7, "new", 1, 0)}))

	info, err := s.CollectionInfo(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.PointsCount)

	hits, err := s.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1, 0}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Payload.Text)
}

func TestChromemStore_UpsertDoesNotMutateInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection(ctx, "kb", 2))

	vec := []float32{3, 4}
	require.NoError(t, s.UpsertPoints(ctx, "kb", []Point{{ID: 1, Vector: vec}}))
	assert.Equal(t, []float32{3, 4}, vec)
}

func TestChromemStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection(ctx, "kb", 3))

	err := s.UpsertPoints(ctx, "kb", []Point{point(0, "short", 1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "upsert", se.Op)
	assert.Equal(t, "kb", se.Collection)

	_, err = s.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1}, Limit: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemStore_EmptyCases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection(ctx, "kb", 2))

	require.NoError(t, s.UpsertPoints(ctx, "kb", nil))

	hits, err := s.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1, 0}, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.SearchPoints(ctx, "absent", SearchParams{Vector: []float32{1, 0}, Limit: 5})
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	err = s.UpsertPoints(ctx, "absent", []Point{point(0, "x", 1, 0)})
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "kb", 2))
	require.NoError(t, s.UpsertPoints(ctx, "kb", []Point{point(0, "kept", 1, 0), point(1, "also", 0, 1)}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)

	info, err := reopened.CollectionInfo(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.PointsCount)

	hits, err := reopened.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1, 0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kept", hits[0].Payload.Text)
}

func TestChromemStore_ReopenKeepsVectorSize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "kb", 3))
	require.NoError(t, s.CreateCollection(ctx, "gone", 2))
	require.NoError(t, s.DeleteCollection(ctx, "gone"))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)

	info, err := reopened.CollectionInfo(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.VectorSize)

	err = reopened.UpsertPoints(ctx, "kb", []Point{point(0, "wide", 1, 0, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = reopened.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1, 0}, Limit: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, ok := reopened.sizes.Load("gone")
	assert.False(t, ok)
}

func TestChromemStore_ReopenAdoptedSize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "kb", 2))

	// A collection created before sizes were recorded.
	require.NoError(t, os.Remove(filepath.Join(dir, sizesFile)))
	legacy, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, legacy.UpsertPoints(ctx, "kb", []Point{point(0, "a", 1, 0)}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	info, err := reopened.CollectionInfo(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.VectorSize)
}

func TestChromemStore_CorruptSizesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sizesFile), []byte("{"), 0o600))

	_, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	assert.Error(t, err)
}

func TestFindCorruptCollections(t *testing.T) {
	dir := t.TempDir()

	healthy := filepath.Join(dir, "aaaaaaaa")
	require.NoError(t, os.MkdirAll(healthy, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "00000000.gob"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "1234abcd.gob"), []byte("x"), 0o600))

	corrupt := filepath.Join(dir, "bbbbbbbb")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "1234abcd.gob"), []byte("x"), 0o600))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-hash"), 0o755))

	got, err := findCorruptCollections(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"bbbbbbbb"}, got)
}

func TestValidateCollectionName(t *testing.T) {
	for _, ok := range []string{"my_kb", "Book-1", "a"} {
		assert.NoError(t, ValidateCollectionName(ok), ok)
	}
	for _, bad := range []string{"", "a b", "../etc", "ä"} {
		assert.ErrorIs(t, ValidateCollectionName(bad), ErrInvalidCollectionName, bad)
	}
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("upsert", "kb", ErrCollectionNotFound)
	assert.Equal(t, `vectorstore upsert "kb": collection not found`, err.Error())
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	// Already-wrapped errors keep their original op.
	assert.Same(t, err, NewStoreError("search", "kb", err))
	assert.NoError(t, NewStoreError("x", "y", nil))
}
