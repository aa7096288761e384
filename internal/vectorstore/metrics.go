package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend (qdrant, chromem), op, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragkb",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragkb",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// PointsUpserted counts points written.
	PointsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragkb",
			Subsystem: "vectorstore",
			Name:      "points_upserted_total",
			Help:      "Total number of points upserted",
		},
		[]string{"backend"},
	)

	// SearchHits observes how many points each search returns.
	SearchHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragkb",
			Subsystem: "vectorstore",
			Name:      "search_hits",
			Help:      "Number of points returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25},
		},
		[]string{"backend"},
	)
)

// instrumented records prometheus metrics around every Store call.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps s so each operation is counted and timed under backend.
// Ping passes through when s implements Pinger.
func Instrument(s Store, backend string) Store {
	return &instrumented{Store: s, backend: backend}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(i.backend, op, result).Inc()
	OperationDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) CreateCollection(ctx context.Context, name string, vectorSize uint64) (err error) {
	defer func(start time.Time) { i.observe("create_collection", start, err) }(time.Now())
	return i.Store.CreateCollection(ctx, name, vectorSize)
}

func (i *instrumented) DeleteCollection(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { i.observe("delete_collection", start, err) }(time.Now())
	return i.Store.DeleteCollection(ctx, name)
}

func (i *instrumented) CollectionInfo(ctx context.Context, name string) (info *CollectionInfo, err error) {
	defer func(start time.Time) { i.observe("collection_info", start, err) }(time.Now())
	return i.Store.CollectionInfo(ctx, name)
}

func (i *instrumented) UpsertPoints(ctx context.Context, name string, points []Point) (err error) {
	defer func(start time.Time) { i.observe("upsert", start, err) }(time.Now())
	if err = i.Store.UpsertPoints(ctx, name, points); err == nil {
		PointsUpserted.WithLabelValues(i.backend).Add(float64(len(points)))
	}
	return err
}

func (i *instrumented) SearchPoints(ctx context.Context, name string, params SearchParams) (hits []ScoredPoint, err error) {
	defer func(start time.Time) { i.observe("search", start, err) }(time.Now())
	hits, err = i.Store.SearchPoints(ctx, name, params)
	if err == nil {
		SearchHits.WithLabelValues(i.backend).Observe(float64(len(hits)))
	}
	return hits, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	if p, ok := i.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
