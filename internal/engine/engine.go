// Package engine drives the per-batch synchronization pipeline: validate,
// write canonical, then fan out to the graph and vector projections. The
// canonical write is the gate; graph and vector are derived views.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
	"github.com/lorekeep/lorekeep/internal/store/canonical"
	"github.com/lorekeep/lorekeep/internal/validate"
)

type CanonicalStore interface {
	Upsert(ctx context.Context, e *model.Entity) (canonical.Outcome, error)
	ListEntities(ctx context.Context, kind model.Kind) ([]*model.Entity, error)
	Delete(ctx context.Context, kind model.Kind, naturalKey string) error
	DeleteBySourceTag(ctx context.Context, sourceTag string) ([]*model.Entity, error)
}

type GraphProjector interface {
	Project(ctx context.Context, e *model.Entity) error
	RetryPending(ctx context.Context) (resolved, remaining int)
	PendingCount() int
	DeleteNode(ctx context.Context, kind model.Kind, naturalKey string) error
}

type VectorIndexer interface {
	Index(ctx context.Context, e *model.Entity) bool
	Delete(ctx context.Context, kind model.Kind, naturalKey string) bool
}

type Timeouts struct {
	Canonical time.Duration
	Graph     time.Duration
	Vector    time.Duration
}

type Engine struct {
	canonical CanonicalStore
	graph     GraphProjector
	vector    VectorIndexer
	workers   int
	timeouts  Timeouts
	log       *logger.Logger
}

func New(log *logger.Logger, canonicalStore CanonicalStore, graph GraphProjector, vector VectorIndexer, workers int, timeouts Timeouts) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		canonical: canonicalStore,
		graph:     graph,
		vector:    vector,
		workers:   workers,
		timeouts:  timeouts,
		log:       log.With("component", "engine"),
	}
}

type Status string

const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusNoop     Status = "noop"
	StatusRejected Status = "rejected" // validation failure, fix the payload
	StatusFailed   Status = "failed"   // canonical write failure, replayable
)

// SyncResult tracks one entity through the pipeline so a batch replay only
// reprocesses the failed subset. Degraded means the canonical write landed
// but a projection did not; replaying a degraded item is safe and cheap
// because every projection is idempotent.
type SyncResult struct {
	Index      int    `json:"index"`
	NaturalKey string `json:"natural_key,omitempty"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	GraphOK    bool   `json:"graph_ok"`
	VectorOK   bool   `json:"vector_ok"`
}

func (r SyncResult) Degraded() bool {
	switch r.Status {
	case StatusCreated, StatusUpdated, StatusNoop:
		return !r.GraphOK || !r.VectorOK
	}
	return false
}

type BatchResult struct {
	Items        []SyncResult `json:"items"`
	PendingEdges int          `json:"pending_edges"`
}

// SyncBatch pushes a bounded batch through the pipeline. Entities run
// concurrently; the three store writes for a single entity stay sequenced
// because graph and vector projection read canonical attributes. One
// entity's failure never blocks or rolls back its siblings.
func (e *Engine) SyncBatch(ctx context.Context, payloads []validate.Payload) BatchResult {
	results := make([]SyncResult, len(payloads))

	var g errgroup.Group
	g.SetLimit(e.workers)
	var mu sync.Mutex

	for i, p := range payloads {
		g.Go(func() error {
			r := e.syncOne(ctx, p)
			r.Index = i
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Entities later in the batch may satisfy references deferred earlier
	// in the same batch.
	resolved, remaining := e.graph.RetryPending(ctx)
	if resolved > 0 || remaining > 0 {
		e.log.Info("deferred edge pass", "resolved", resolved, "remaining", remaining)
	}

	return BatchResult{Items: results, PendingEdges: remaining}
}

func (e *Engine) syncOne(ctx context.Context, p validate.Payload) SyncResult {
	entity, err := validate.Entity(p)
	if err != nil {
		return SyncResult{Status: StatusRejected, Error: err.Error()}
	}
	r := SyncResult{NaturalKey: entity.NaturalKey}

	canonicalCtx, cancel := context.WithTimeout(ctx, e.timeouts.Canonical)
	outcome, err := e.canonical.Upsert(canonicalCtx, entity)
	cancel()
	if err != nil {
		// Canonical is the source of truth: its failure aborts this
		// entity's pipeline. The caller replays the failed subset.
		r.Status = StatusFailed
		r.Error = err.Error()
		return r
	}
	switch outcome {
	case canonical.OutcomeCreated:
		r.Status = StatusCreated
	case canonical.OutcomeUpdated:
		r.Status = StatusUpdated
	default:
		r.Status = StatusNoop
	}

	graphCtx, cancel := context.WithTimeout(ctx, e.timeouts.Graph)
	err = e.graph.Project(graphCtx, entity)
	cancel()
	if err != nil {
		e.log.Error("graph projection failed", "kind", entity.Kind, "natural_key", entity.NaturalKey, "error", err)
	} else {
		r.GraphOK = true
	}

	vectorCtx, cancel := context.WithTimeout(ctx, e.timeouts.Vector)
	r.VectorOK = e.vector.Index(vectorCtx, entity)
	cancel()

	return r
}

// RetryPending drains the deferred-edge queue outside a batch.
func (e *Engine) RetryPending(ctx context.Context) (resolved, remaining int) {
	return e.graph.RetryPending(ctx)
}

// Reproject rebuilds the graph and vector projections for a kind from the
// canonical store. Used to recover a lost secondary store; safe to repeat.
// Failures are isolated per entity, same as the sync pipeline: one bad row
// must not block restoring the rest, and a rerun picks up what failed.
func (e *Engine) Reproject(ctx context.Context, kind model.Kind) (projected, failed int, err error) {
	entities, err := e.canonical.ListEntities(ctx, kind)
	if err != nil {
		return 0, 0, err
	}
	for _, entity := range entities {
		graphCtx, cancel := context.WithTimeout(ctx, e.timeouts.Graph)
		projErr := e.graph.Project(graphCtx, entity)
		cancel()
		if projErr != nil {
			failed++
			e.log.Error("reprojection failed", "kind", entity.Kind, "natural_key", entity.NaturalKey, "error", projErr)
		} else {
			projected++
		}

		vectorCtx, cancel := context.WithTimeout(ctx, e.timeouts.Vector)
		e.vector.Index(vectorCtx, entity)
		cancel()
	}
	e.graph.RetryPending(ctx)
	return projected, failed, nil
}

// DeleteEntity removes one entity from the canonical store, then cascades
// to the graph and vector projections. The cascade is not transactional;
// the validator flags any partial cleanup as orphans.
func (e *Engine) DeleteEntity(ctx context.Context, kind model.Kind, naturalKey string) error {
	if err := e.canonical.Delete(ctx, kind, naturalKey); err != nil {
		return err
	}
	e.cascadeDelete(ctx, kind, naturalKey)
	return nil
}

// DeleteBySourceTag removes everything one import pipeline produced.
func (e *Engine) DeleteBySourceTag(ctx context.Context, sourceTag string) (int, error) {
	removed, err := e.canonical.DeleteBySourceTag(ctx, sourceTag)
	if err != nil {
		return 0, err
	}
	for _, entity := range removed {
		e.cascadeDelete(ctx, entity.Kind, entity.NaturalKey)
	}
	return len(removed), nil
}

func (e *Engine) cascadeDelete(ctx context.Context, kind model.Kind, naturalKey string) {
	graphCtx, cancel := context.WithTimeout(ctx, e.timeouts.Graph)
	err := e.graph.DeleteNode(graphCtx, kind, naturalKey)
	cancel()
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		e.log.Error("graph cascade delete failed", "kind", kind, "natural_key", naturalKey, "error", err)
	}

	vectorCtx, cancel := context.WithTimeout(ctx, e.timeouts.Vector)
	e.vector.Delete(vectorCtx, kind, naturalKey)
	cancel()
}
