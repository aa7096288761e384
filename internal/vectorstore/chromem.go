package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
)

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted files.
	Compress bool
}

// errNoEmbeddingFunc is returned if chromem ever asks us to embed text.
// Every point arrives with its vector, so this indicates a bug.
var errNoEmbeddingFunc = errors.New("chromem store does not embed text; supply vectors")

// ChromemStore implements Store on chromem-go.
//
// chromem does not enforce a collection's dimensionality, so the store
// tracks it per collection. Persistent stores keep the sizes in
// vector_sizes.json next to the collection directories. A collection with
// no recorded size adopts the size of its first upsert.
type ChromemStore struct {
	db     *chromem.DB
	logger *logging.Logger

	// sizes maps collection name to vector size (uint64).
	sizes sync.Map

	// sizesPath is empty for in-memory stores.
	sizesPath string
	sizesMu   sync.Mutex
}

const sizesFile = "vector_sizes.json"

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens a chromem database per cfg.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	if cfg.Path == "" {
		return &ChromemStore{db: chromem.NewDB(), logger: logger}, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := openResilientDB(path, cfg.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	s := &ChromemStore{db: db, logger: logger, sizesPath: filepath.Join(path, sizesFile)}
	if err := s.loadSizes(); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "chromem store opened",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("collections", len(db.ListCollections())),
	)
	return s, nil
}

// loadSizes restores recorded sizes for collections that still exist.
func (s *ChromemStore) loadSizes() error {
	b, err := os.ReadFile(s.sizesPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.sizesPath, err)
	}

	var sizes map[string]uint64
	if err := json.Unmarshal(b, &sizes); err != nil {
		return fmt.Errorf("parsing %s: %w", s.sizesPath, err)
	}
	existing := s.db.ListCollections()
	for name, size := range sizes {
		if _, ok := existing[name]; ok && size > 0 {
			s.sizes.Store(name, size)
		}
	}
	return nil
}

// setSize records a collection's size, or forgets it when size is 0, and
// rewrites the sidecar file of a persistent store.
func (s *ChromemStore) setSize(name string, size uint64) error {
	s.sizesMu.Lock()
	defer s.sizesMu.Unlock()

	if size == 0 {
		s.sizes.Delete(name)
	} else {
		s.sizes.Store(name, size)
	}
	if s.sizesPath == "" {
		return nil
	}

	snapshot := make(map[string]uint64)
	s.sizes.Range(func(k, v any) bool {
		snapshot[k.(string)] = v.(uint64)
		return true
	})
	b, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tmp := s.sizesPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.sizesPath)
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (s *ChromemStore) vectorSize(name string) uint64 {
	if v, ok := s.sizes.Load(name); ok {
		return v.(uint64)
	}
	return 0
}

// CreateCollection creates a collection with the given dimensionality.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	if err := ValidateCollectionName(name); err != nil {
		return NewStoreError("create_collection", name, err)
	}
	if vectorSize == 0 {
		return NewStoreError("create_collection", name, fmt.Errorf("%w: vector size must be positive", ErrDimensionMismatch))
	}
	if s.db.GetCollection(name, noEmbed) != nil {
		return NewStoreError("create_collection", name, ErrCollectionExists)
	}

	meta := map[string]string{"vector_size": strconv.FormatUint(vectorSize, 10)}
	if _, err := s.db.CreateCollection(name, meta, noEmbed); err != nil {
		return NewStoreError("create_collection", name, err)
	}
	if err := s.setSize(name, vectorSize); err != nil {
		return NewStoreError("create_collection", name, err)
	}

	s.logger.Debug(ctx, "collection created",
		zap.String("collection", name),
		zap.Uint64("vector_size", vectorSize),
	)
	return nil
}

// DeleteCollection removes a collection and its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	if s.db.GetCollection(name, noEmbed) == nil {
		return NewStoreError("delete_collection", name, ErrCollectionNotFound)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return NewStoreError("delete_collection", name, err)
	}
	if err := s.setSize(name, 0); err != nil {
		s.logger.Warn(ctx, "failed to forget collection size",
			zap.String("collection", name),
			zap.Error(err),
		)
	}

	s.logger.Debug(ctx, "collection deleted", zap.String("collection", name))
	return nil
}

// CollectionInfo returns the document count and tracked dimensionality.
func (s *ChromemStore) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	coll := s.db.GetCollection(name, noEmbed)
	if coll == nil {
		return nil, NewStoreError("collection_info", name, ErrCollectionNotFound)
	}
	return &CollectionInfo{
		Name:        name,
		PointsCount: uint64(coll.Count()),
		VectorSize:  s.vectorSize(name),
	}, nil
}

// UpsertPoints stores points as chromem documents keyed by decimal ID.
func (s *ChromemStore) UpsertPoints(ctx context.Context, name string, points []Point) error {
	coll := s.db.GetCollection(name, noEmbed)
	if coll == nil {
		return NewStoreError("upsert", name, ErrCollectionNotFound)
	}
	if len(points) == 0 {
		return nil
	}

	size := s.vectorSize(name)
	adopt := size == 0
	if adopt {
		size = uint64(len(points[0].Vector))
	}
	if err := ValidatePoints(points, size); err != nil {
		return NewStoreError("upsert", name, err)
	}
	if adopt {
		if err := s.setSize(name, size); err != nil {
			return NewStoreError("upsert", name, err)
		}
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		// chromem normalizes in place; keep the caller's slice intact.
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		docs[i] = chromem.Document{
			ID:        strconv.FormatUint(p.ID, 10),
			Content:   p.Payload.Text,
			Embedding: vec,
		}
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return NewStoreError("upsert", name, err)
	}
	return nil
}

// SearchPoints queries by vector. chromem rejects a result count larger
// than the collection, so the limit is capped at the document count.
func (s *ChromemStore) SearchPoints(ctx context.Context, name string, params SearchParams) ([]ScoredPoint, error) {
	coll := s.db.GetCollection(name, noEmbed)
	if coll == nil {
		return nil, NewStoreError("search", name, ErrCollectionNotFound)
	}
	if size := s.vectorSize(name); size != 0 && uint64(len(params.Vector)) != size {
		return nil, NewStoreError("search", name, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			ErrDimensionMismatch, len(params.Vector), size))
	}

	n := coll.Count()
	if params.Limit < uint64(n) {
		n = int(params.Limit)
	}
	if n == 0 {
		return []ScoredPoint{}, nil
	}

	query := make([]float32, len(params.Vector))
	copy(query, params.Vector)

	results, err := coll.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, NewStoreError("search", name, err)
	}

	hits := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			s.logger.Warn(ctx, "skipping document with non-numeric id",
				zap.String("collection", name),
				zap.String("id", r.ID),
			)
			continue
		}
		hits = append(hits, ScoredPoint{
			ID:      id,
			Score:   r.Similarity,
			Payload: Payload{Text: r.Content},
		})
	}
	return hits, nil
}

// Ping always succeeds for the embedded store.
func (s *ChromemStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openResilientDB opens a persistent DB. A collection directory holding
// documents but no metadata file blocks the whole load, so such
// directories are moved to .quarantine and the load is retried once.
func openResilientDB(path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "metadata file not found") {
		return nil, err
	}

	ctx := context.Background()
	corrupt, findErr := findCorruptCollections(path)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantine, 0o755); mkErr != nil {
		return nil, err
	}
	for _, dir := range corrupt {
		logger.Warn(ctx, "quarantining corrupt collection directory", zap.String("dir", dir))
		if mvErr := os.Rename(filepath.Join(path, dir), filepath.Join(quarantine, dir)); mvErr != nil {
			logger.Error(ctx, "quarantine failed", zap.String("dir", dir), zap.Error(mvErr))
		}
	}

	return chromem.NewPersistentDB(path, compress)
}

func findCorruptCollections(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if hasMetadata(dir) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.Contains(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}

func hasMetadata(dir string) bool {
	for _, name := range []string{"00000000.gob", "00000000.gob.gz"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
