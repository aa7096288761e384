// Package runs tracks knowledge-base runs and publishes their lifecycle to
// NATS.
//
// Events are published to subjects:
//   - runs.{collection}.{run_id}.started
//   - runs.{collection}.{run_id}.completed
//   - runs.{collection}.{run_id}.failed
//
// A Registry without a publisher only tracks runs in memory.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
)

// Kind names what a run does.
type Kind string

const (
	KindIngest Kind = "ingest"
	KindAsk    Kind = "ask"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultTTL is how long finished runs stay queryable in memory.
const DefaultTTL = time.Hour

// ErrRunNotFound is returned for unknown or expired run IDs.
var ErrRunNotFound = errors.New("run not found")

// Event is the state of a run, published as JSON on every transition.
type Event struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	Collection string    `json:"collection"`
	Status     Status    `json:"status"`
	StartID    uint64    `json:"start_id"`
	Inserted   int       `json:"inserted"`
	Failed     int       `json:"failed_units"`
	Total      uint64    `json:"total"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// Publisher sends a message to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Registry tracks runs and publishes their events.
type Registry struct {
	pub    Publisher
	logger *logging.Logger
	ttl    time.Duration

	mu   sync.Mutex
	runs map[string]*Event
}

// NewRegistry creates a registry. pub may be nil.
func NewRegistry(pub Publisher, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		pub:    pub,
		logger: logger,
		ttl:    DefaultTTL,
		runs:   make(map[string]*Event),
	}
}

// Create registers a pending run and returns its ID.
func (r *Registry) Create(ctx context.Context, kind Kind, collection string) string {
	now := time.Now()
	ev := &Event{
		RunID:      uuid.NewString(),
		Kind:       kind,
		Collection: collection,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	r.runs[ev.RunID] = ev
	r.mu.Unlock()

	r.logger.Debug(ctx, "run created",
		zap.String("run_id", ev.RunID),
		zap.String("kind", string(kind)),
	)
	return ev.RunID
}

// Started marks the run running from startID and publishes "started".
func (r *Registry) Started(runID string, startID uint64) error {
	return r.transition(runID, "started", func(ev *Event) {
		ev.Status = StatusRunning
		ev.StartID = startID
	})
}

// Completed marks the run completed and publishes "completed".
func (r *Registry) Completed(runID string, inserted, failed int, total uint64) error {
	return r.transition(runID, "completed", func(ev *Event) {
		ev.Status = StatusCompleted
		ev.Inserted = inserted
		ev.Failed = failed
		ev.Total = total
		ev.DurationMS = time.Since(ev.CreatedAt).Milliseconds()
	})
}

// Failed marks the run failed with cause and publishes "failed".
func (r *Registry) Failed(runID string, cause error) error {
	return r.transition(runID, "failed", func(ev *Event) {
		ev.Status = StatusFailed
		if cause != nil {
			ev.Error = cause.Error()
		}
		ev.DurationMS = time.Since(ev.CreatedAt).Milliseconds()
	})
}

// Get returns a copy of the run's current state.
func (r *Registry) Get(runID string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.runs[runID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return *ev, nil
}

// Subject returns the NATS subject for a run event.
func Subject(collection, runID, event string) string {
	return fmt.Sprintf("runs.%s.%s.%s", collection, runID, event)
}

func (r *Registry) transition(runID, event string, update func(*Event)) error {
	r.mu.Lock()
	ev, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	update(ev)
	ev.UpdatedAt = time.Now()
	snapshot := *ev
	r.mu.Unlock()

	if snapshot.Status == StatusCompleted || snapshot.Status == StatusFailed {
		time.AfterFunc(r.ttl, func() { r.forget(runID) })
	}

	if r.pub == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if err := r.pub.Publish(Subject(snapshot.Collection, runID, event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	return nil
}

func (r *Registry) forget(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}
