// Package vectorstore defines the vector store capability used by the
// knowledge base and ships an embedded chromem-go implementation.
//
// A collection has a fixed vector dimensionality set at creation. Points are
// addressed by numeric IDs and carry the source text as payload.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
)

// Point is a single vector with its numeric ID and payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Payload is the data stored alongside a vector.
type Payload struct {
	Text string `json:"text"`
}

// ScoredPoint is a search hit. Score is the cosine similarity to the query.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload Payload
}

// SearchParams configures a similarity search.
type SearchParams struct {
	Vector []float32
	Limit  uint64
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	VectorSize  uint64 `json:"vector_size"`
}

// Store is the vector store capability.
//
// Implementations:
//   - ChromemStore: embedded chromem-go, in memory or persisted to disk
//   - qdrant.GRPCClient: external Qdrant over gRPC
type Store interface {
	// CreateCollection creates a collection with cosine distance and the
	// given dimensionality. Returns ErrCollectionExists if present.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error

	// DeleteCollection removes a collection and its points.
	// Returns ErrCollectionNotFound if absent.
	DeleteCollection(ctx context.Context, name string) error

	// CollectionInfo returns the point count and dimensionality.
	// Returns ErrCollectionNotFound if absent.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// UpsertPoints writes points, replacing any with the same ID. The call
	// returns once the points are visible to search.
	UpsertPoints(ctx context.Context, name string, points []Point) error

	// SearchPoints returns up to params.Limit points ordered by descending
	// score, with payloads.
	SearchPoints(ctx context.Context, name string, params SearchParams) ([]ScoredPoint, error)

	// Close releases the underlying connection or database.
	Close() error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ValidateCollectionName rejects names that are empty, too long or contain
// characters outside [A-Za-z0-9_-].
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollectionName, name, collectionNamePattern)
	}
	return nil
}

// ValidatePoints checks every vector has the collection's dimensionality.
func ValidatePoints(points []Point, vectorSize uint64) error {
	for _, p := range points {
		if uint64(len(p.Vector)) != vectorSize {
			return fmt.Errorf("%w: point %d has %d dimensions, collection expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), vectorSize)
		}
	}
	return nil
}
