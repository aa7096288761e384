package collection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

func newStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func points(start uint64, n int) []vectorstore.Point {
	out := make([]vectorstore.Point, n)
	for i := range out {
		out[i] = vectorstore.Point{
			ID:      start + uint64(i),
			Vector:  []float32{1, float32(i), 0},
			Payload: vectorstore.Payload{Text: "t"},
		}
	}
	return out
}

// brokenStore fails the operations named in failOps.
type brokenStore struct {
	vectorstore.Store
	failOps map[string]error
	deletes int
}

func (b *brokenStore) DeleteCollection(ctx context.Context, name string) error {
	b.deletes++
	if err := b.failOps["delete"]; err != nil {
		return err
	}
	return b.Store.DeleteCollection(ctx, name)
}

func (b *brokenStore) CreateCollection(ctx context.Context, name string, size uint64) error {
	if err := b.failOps["create"]; err != nil {
		return err
	}
	return b.Store.CreateCollection(ctx, name, size)
}

func (b *brokenStore) UpsertPoints(ctx context.Context, name string, pts []vectorstore.Point) error {
	if err := b.failOps["upsert"]; err != nil {
		return err
	}
	return b.Store.UpsertPoints(ctx, name, pts)
}

func TestEstablishStartID_ResetCreatesFreshCollection(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store, nil)

	require.NoError(t, store.CreateCollection(ctx, "kb", 3))
	require.NoError(t, store.UpsertPoints(ctx, "kb", points(0, 4)))

	start, err := m.EstablishStartID(ctx, "kb", 3, true)
	require.NoError(t, err)
	assert.Zero(t, start)

	count, err := m.Stats(ctx, "kb")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEstablishStartID_ResetIgnoresMissingCollection(t *testing.T) {
	tl := logging.NewTestLogger()
	m := NewManager(newStore(t), tl.Logger)

	start, err := m.EstablishStartID(context.Background(), "fresh", 8, true)
	require.NoError(t, err)
	assert.Zero(t, start)
	tl.AssertLogged(t, zapcore.DebugLevel, "delete before reset failed")

	info, err := m.Info(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), info.VectorSize)
}

func TestEstablishStartID_ResetCreateFailure(t *testing.T) {
	boom := errors.New("disk full")
	store := &brokenStore{Store: newStore(t), failOps: map[string]error{"create": boom}}
	m := NewManager(store, nil)

	_, err := m.EstablishStartID(context.Background(), "kb", 3, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, vectorstore.IsStoreError(err))
	assert.Equal(t, 1, store.deletes)
}

func TestEstablishStartID_Continuation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store, nil)

	require.NoError(t, store.CreateCollection(ctx, "kb", 3))
	require.NoError(t, store.UpsertPoints(ctx, "kb", points(0, 7)))

	start, err := m.EstablishStartID(ctx, "kb", 3, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), start)
}

func TestEstablishStartID_ContinuationMissingCollection(t *testing.T) {
	m := NewManager(newStore(t), nil)

	_, err := m.EstablishStartID(context.Background(), "absent", 3, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	var se *vectorstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "absent", se.Collection)
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store, nil)
	require.NoError(t, store.CreateCollection(ctx, "kb", 3))

	require.NoError(t, m.Upsert(ctx, "kb", nil))
	require.NoError(t, m.Upsert(ctx, "kb", points(0, 2)))

	count, err := m.Stats(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestUpsert_Failure(t *testing.T) {
	tl := logging.NewTestLogger()
	boom := errors.New("connection reset")
	store := &brokenStore{Store: newStore(t), failOps: map[string]error{"upsert": boom}}
	m := NewManager(store, tl.Logger)

	err := m.Upsert(context.Background(), "kb", points(0, 1))
	assert.ErrorIs(t, err, boom)
	assert.True(t, vectorstore.IsStoreError(err))
	tl.AssertLogged(t, zapcore.ErrorLevel, "cannot upsert into collection")
}
