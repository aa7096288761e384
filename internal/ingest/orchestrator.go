package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// Output is the result of embedding one batch.
type Output struct {
	Points []vectorstore.Point

	// Count equals len(Points).
	Count int

	// Failed counts units whose embedding call failed.
	Failed int

	// NextID is the ID the next point would receive.
	NextID uint64
}

// Orchestrator embeds units one at a time and numbers the points.
type Orchestrator struct {
	embedder provider.Embedder
	logger   *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(embedder provider.Embedder, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{embedder: embedder, logger: logger}
}

// Embed converts units to points with IDs counting up from startID. Every
// vector returned for a unit becomes a point carrying the unit's full
// text. Units whose embedding fails are logged and skipped.
func (o *Orchestrator) Embed(ctx context.Context, units []string, startID uint64) Output {
	out := Output{
		Points: make([]vectorstore.Point, 0, len(units)),
		NextID: startID,
	}

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			o.logger.Warn(ctx, "embedding interrupted",
				zap.Int("remaining", len(units)-i),
				zap.Error(err),
			)
			out.Failed += len(units) - i
			break
		}

		vectors, err := o.embedder.Embed(ctx, unit)
		if err != nil {
			o.logger.Error(ctx, "embedding failed, skipping unit",
				zap.Int("unit", i),
				zap.Error(err),
			)
			out.Failed++
			continue
		}

		for _, v := range vectors {
			out.Points = append(out.Points, vectorstore.Point{
				ID:      out.NextID,
				Vector:  v,
				Payload: vectorstore.Payload{Text: unit},
			})
			o.logger.Debug(ctx, "created vector",
				zap.Uint64("id", out.NextID),
				zap.Int("dimension", len(v)),
			)
			out.NextID++
		}
	}

	out.Count = len(out.Points)
	return out
}
