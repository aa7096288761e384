package vectorstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	backend := "chromem_metrics_test"
	s := Instrument(newTestStore(t), backend)

	require.NoError(t, s.CreateCollection(ctx, "kb", 2))
	require.Error(t, s.CreateCollection(ctx, "kb", 2))
	require.NoError(t, s.UpsertPoints(ctx, "kb", []Point{point(0, "a", 1, 0), point(1, "b", 0, 1)}))
	_, err := s.SearchPoints(ctx, "kb", SearchParams{Vector: []float32{1, 0}, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(backend, "create_collection", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(backend, "create_collection", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(backend, "upsert", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(PointsUpserted.WithLabelValues(backend)))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(backend, "search", "success")))
}

func TestInstrument_PingPassesThrough(t *testing.T) {
	s := Instrument(newTestStore(t), "chromem_ping_test")
	p, ok := s.(Pinger)
	require.True(t, ok)
	assert.NoError(t, p.Ping(context.Background()))
}
