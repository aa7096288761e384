package qdrant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// api is the subset of *qdrant.Client the store uses.
type api interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// GRPCClient implements vectorstore.Store using Qdrant's official Go client.
type GRPCClient struct {
	client api
	config *ClientConfig
	logger *logging.Logger
}

var (
	_ vectorstore.Store  = (*GRPCClient)(nil)
	_ vectorstore.Pinger = (*GRPCClient)(nil)
)

// NewGRPCClient connects to Qdrant and verifies the connection with a
// health check.
func NewGRPCClient(cfg *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := newWithAPI(client, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	logger.Info(ctx, "connecting to qdrant",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	if err := c.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	logger.Info(ctx, "qdrant connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	return c, nil
}

func newWithAPI(client api, cfg *ClientConfig, logger *logging.Logger) *GRPCClient {
	return &GRPCClient{client: client, config: cfg, logger: logger}
}

// Ping performs a health check on the Qdrant connection.
func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.client.HealthCheck(ctx); err != nil {
		return vectorstore.NewStoreError("health", "", err)
	}
	return nil
}

// CreateCollection creates a collection with the configured distance.
func (c *GRPCClient) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return vectorstore.NewStoreError("create_collection", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	err := c.retryOperation(ctx, func() error {
		return c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: c.config.Distance,
			}),
		})
	})
	return vectorstore.NewStoreError("create_collection", name, translate(err))
}

// DeleteCollection deletes a collection and all its points.
func (c *GRPCClient) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	err := c.retryOperation(ctx, func() error {
		return c.client.DeleteCollection(ctx, name)
	})
	return vectorstore.NewStoreError("delete_collection", name, translate(err))
}

// CollectionInfo returns the points count and vector size.
func (c *GRPCClient) CollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var info *qdrant.CollectionInfo
	err := c.retryOperation(ctx, func() error {
		var err error
		info, err = c.client.GetCollectionInfo(ctx, name)
		return err
	})
	if err != nil {
		return nil, vectorstore.NewStoreError("collection_info", name, translate(err))
	}

	return &vectorstore.CollectionInfo{
		Name:        name,
		PointsCount: info.GetPointsCount(),
		VectorSize:  info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(),
	}, nil
}

// UpsertPoints writes points and waits until they are applied.
func (c *GRPCClient) UpsertPoints(ctx context.Context, name string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = toQdrantPoint(p)
	}

	err := c.retryOperation(ctx, func() error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qpoints,
		})
		return err
	})
	return vectorstore.NewStoreError("upsert", name, translate(err))
}

// SearchPoints runs a nearest-neighbour query with payloads.
func (c *GRPCClient) SearchPoints(ctx context.Context, name string, params vectorstore.SearchParams) ([]vectorstore.ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := c.retryOperation(ctx, func() error {
		var err error
		results, err = c.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(params.Vector...),
			Limit:          qdrant.PtrOf(params.Limit),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, vectorstore.NewStoreError("search", name, translate(err))
	}

	hits := make([]vectorstore.ScoredPoint, len(results))
	for i, r := range results {
		hits[i] = vectorstore.ScoredPoint{
			ID:      r.GetId().GetNum(),
			Score:   r.GetScore(),
			Payload: vectorstore.Payload{Text: r.GetPayload()[payloadTextKey].GetStringValue()},
		}
	}
	return hits, nil
}

// Close closes the client connection.
func (c *GRPCClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// retryOperation retries operation with exponential backoff while it fails
// with a transient gRPC status.
func (c *GRPCClient) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) {
			return err
		}
		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug(ctx, "retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	c.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.Int("total_attempts", c.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// isTransientError reports gRPC codes worth retrying.
func isTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// translate maps Qdrant's status errors onto vectorstore sentinels, keeping
// the original message.
func translate(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := strings.ToLower(st.Message())
	switch {
	case st.Code() == codes.NotFound, strings.Contains(msg, "doesn't exist"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, st.Message())
	case st.Code() == codes.AlreadyExists, strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, st.Message())
	case strings.Contains(msg, "vector dimension error"), strings.Contains(msg, "wrong input: vector"):
		return fmt.Errorf("%w: %s", vectorstore.ErrDimensionMismatch, st.Message())
	default:
		return err
	}
}

const payloadTextKey = "text"

func toQdrantPoint(p vectorstore.Point) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: map[string]*qdrant.Value{
			payloadTextKey: {Kind: &qdrant.Value_StringValue{StringValue: p.Payload.Text}},
		},
	}
}
