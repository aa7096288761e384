// Package collection manages the lifecycle of knowledge-base collections.
//
// Concurrent ingestion runs against one collection can read the same
// points count and assign overlapping IDs; later upserts overwrite earlier
// points with the same ID. Neither backing store offers an atomic counter,
// so callers that need isolation must serialize runs per collection.
package collection

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// Manager owns reset, continuation, upsert and stats for collections.
type Manager struct {
	store  vectorstore.Store
	logger *logging.Logger
}

// NewManager creates a manager over store.
func NewManager(store vectorstore.Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// EstablishStartID returns the first point ID for a new ingestion run.
//
// With reset the collection is dropped (errors ignored) and recreated with
// vectorSize dimensions, and the run starts at 0. Otherwise the run starts
// at the collection's current points count.
func (m *Manager) EstablishStartID(ctx context.Context, collection string, vectorSize uint64, reset bool) (uint64, error) {
	if reset {
		m.logger.Debug(ctx, "resetting collection", zap.Uint64("vector_size", vectorSize))

		if err := m.store.DeleteCollection(ctx, collection); err != nil {
			m.logger.Debug(ctx, "delete before reset failed", zap.Error(err))
		}
		if err := m.store.CreateCollection(ctx, collection, vectorSize); err != nil {
			m.logger.Error(ctx, "cannot create collection",
				zap.Uint64("vector_size", vectorSize),
				zap.Error(err),
			)
			return 0, vectorstore.NewStoreError("create_collection", collection, err)
		}
		return 0, nil
	}

	m.logger.Debug(ctx, "continuing with existing collection")
	count, err := m.Stats(ctx, collection)
	if err != nil {
		m.logger.Error(ctx, "cannot get collection stats", zap.Error(err))
		return 0, err
	}
	m.logger.Debug(ctx, "starting ID established", zap.Uint64("start_id", count))
	return count, nil
}

// Upsert records points. An empty slice is a no-op.
func (m *Manager) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := m.store.UpsertPoints(ctx, collection, points); err != nil {
		m.logger.Error(ctx, "cannot upsert into collection",
			zap.Int("points", len(points)),
			zap.Error(err),
		)
		return vectorstore.NewStoreError("upsert", collection, err)
	}
	return nil
}

// Stats returns the collection's points count.
func (m *Manager) Stats(ctx context.Context, collection string) (uint64, error) {
	info, err := m.store.CollectionInfo(ctx, collection)
	if err != nil {
		return 0, vectorstore.NewStoreError("collection_info", collection, err)
	}
	return info.PointsCount, nil
}

// Info returns the collection's points count and dimensionality.
func (m *Manager) Info(ctx context.Context, collection string) (*vectorstore.CollectionInfo, error) {
	info, err := m.store.CollectionInfo(ctx, collection)
	if err != nil {
		return nil, vectorstore.NewStoreError("collection_info", collection, err)
	}
	return info, nil
}

