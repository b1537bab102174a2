package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/lorekeep/lorekeep/internal/model"
	"github.com/lorekeep/lorekeep/internal/store/canonical"
)

type fakeCanonical struct {
	mu       sync.Mutex
	entities map[string]*model.Entity // kind/key
	err      error
}

func newFakeCanonical() *fakeCanonical {
	return &fakeCanonical{entities: make(map[string]*model.Entity)}
}

func ckey(kind model.Kind, key string) string { return string(kind) + "/" + key }

func (f *fakeCanonical) Upsert(ctx context.Context, e *model.Entity) (canonical.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	id := ckey(e.Kind, e.NaturalKey)
	if existing, ok := f.entities[id]; ok {
		e.Version = existing.Version + 1
		f.entities[id] = e
		return canonical.OutcomeUpdated, nil
	}
	e.Version = 1
	f.entities[id] = e
	return canonical.OutcomeCreated, nil
}

func (f *fakeCanonical) ListEntities(ctx context.Context, kind model.Kind) ([]*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Entity
	for _, e := range f.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCanonical) Delete(ctx context.Context, kind model.Kind, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ckey(kind, key)
	if _, ok := f.entities[id]; !ok {
		return model.ErrNotFound
	}
	delete(f.entities, id)
	return nil
}

func (f *fakeCanonical) DeleteBySourceTag(ctx context.Context, tag string) ([]*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []*model.Entity
	for id, e := range f.entities {
		if e.SourceTag == tag {
			removed = append(removed, e)
			delete(f.entities, id)
		}
	}
	return removed, nil
}

// fakeGraph mirrors the projector's deferred-edge contract: edges whose
// target node is missing go on the pending queue.
type fakeGraph struct {
	mu      sync.Mutex
	nodes   map[string]bool
	edges   map[string]bool // source/TYPE/target
	pending []model.Reference
	err     error
	failKey string // fail projection of this one entity
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: make(map[string]bool), edges: make(map[string]bool)}
}

func (f *fakeGraph) Project(ctx context.Context, e *model.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failKey != "" && e.NaturalKey == f.failKey {
		return errors.New("node write failed")
	}
	f.nodes[ckey(e.Kind, e.NaturalKey)] = true
	for _, ref := range e.References() {
		f.saveEdgeLocked(ref)
	}
	return nil
}

func (f *fakeGraph) saveEdgeLocked(ref model.Reference) {
	if !f.nodes[ckey(ref.TargetKind, ref.TargetKey)] {
		f.pending = append(f.pending, ref)
		return
	}
	f.edges[ref.SourceKey+"/"+ref.EdgeType+"/"+ref.TargetKey] = true
}

func (f *fakeGraph) RetryPending(ctx context.Context) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queued := f.pending
	f.pending = nil
	resolved := 0
	for _, ref := range queued {
		before := len(f.pending)
		f.saveEdgeLocked(ref)
		if len(f.pending) == before {
			resolved++
		}
	}
	return resolved, len(f.pending)
}

func (f *fakeGraph) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeGraph) DeleteNode(ctx context.Context, kind model.Kind, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, ckey(kind, key))
	return nil
}

func (f *fakeGraph) hasEdge(source, edgeType, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges[source+"/"+edgeType+"/"+target]
}

type fakeVector struct {
	mu      sync.Mutex
	points  map[string]bool
	offline bool
}

func newFakeVector() *fakeVector {
	return &fakeVector{points: make(map[string]bool)}
}

func (f *fakeVector) Index(ctx context.Context, e *model.Entity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return false
	}
	f.points[ckey(e.Kind, e.NaturalKey)] = true
	return true
}

func (f *fakeVector) Delete(ctx context.Context, kind model.Kind, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return false
	}
	delete(f.points, ckey(kind, key))
	return true
}
