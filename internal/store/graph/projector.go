// Package graph projects canonical entities into the graph store. Nodes and
// edges are keyed by natural identity, never by store-internal surrogate IDs,
// so projection can run any number of times over the same input.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

type Projector struct {
	driver Driver
	log    *logger.Logger

	mu      sync.Mutex
	pending map[string]model.Reference // keyed by (sourceKey, type, targetKey)
}

func NewProjector(log *logger.Logger, driver Driver) *Projector {
	return &Projector{
		driver:  driver,
		log:     log.With("store", "graph"),
		pending: make(map[string]model.Reference),
	}
}

func tripleKey(r model.Reference) string {
	return fmt.Sprintf("%s|%s|%s", r.SourceKey, r.EdgeType, r.TargetKey)
}

var validEdgeTypes = func() map[string]bool {
	m := make(map[string]bool)
	for _, t := range model.EdgeTypes() {
		m[t] = true
	}
	return m
}()

// Project match-or-creates the entity's node, then attempts each derived
// edge. Edges whose target has not been projected yet are queued for the
// next retry pass; one edge's failure never blocks the node or its siblings.
func (p *Projector) Project(ctx context.Context, e *model.Entity) error {
	if err := p.projectNode(ctx, e); err != nil {
		return err
	}
	p.projectEdges(ctx, e.References())
	return nil
}

func (p *Projector) projectNode(ctx context.Context, e *model.Entity) error {
	props := nodeProps(e)
	q := fmt.Sprintf(saveNodeQueryTmpl, e.Kind.Label())
	_, err := p.driver.ExecuteQuery(ctx, q, map[string]interface{}{
		"natural_key": e.NaturalKey,
		"props":       props,
	})
	return err
}

func nodeProps(e *model.Entity) map[string]interface{} {
	props := map[string]interface{}{
		"name":         e.Name,
		"kind":         string(e.Kind),
		"canonical":    e.Canonical,
		"version":      e.Version,
		"source_tag":   e.SourceTag,
		"last_updated": e.LastUpdated.UTC().Format(time.RFC3339),
	}
	switch e.Kind {
	case model.KindCharacter:
		if c := e.Character; c != nil {
			props["species"] = c.Species
			props["description"] = c.Description
			if len(c.Aliases) > 0 {
				props["aliases"] = c.Aliases
			}
		}
	case model.KindLocation:
		if l := e.Location; l != nil {
			props["region"] = l.Region
			props["climate"] = l.Climate
			props["terrain"] = l.Terrain
			props["description"] = l.Description
		}
	case model.KindFaction:
		if f := e.Faction; f != nil {
			props["alignment"] = string(f.Alignment)
			props["description"] = f.Description
		}
	}
	return props
}

func (p *Projector) projectEdges(ctx context.Context, refs []model.Reference) {
	for _, ref := range refs {
		if err := p.saveEdge(ctx, ref); err != nil {
			// Deferred and store-failed edges both go back on the queue;
			// every retry is a MERGE, so replays are safe.
			p.enqueue(ref)
			var pending *model.DependencyPending
			if errors.As(err, &pending) {
				p.log.Debug("edge deferred", "source", ref.SourceKey, "type", ref.EdgeType, "target", ref.TargetKey)
			} else {
				p.log.Warn("edge projection failed, queued for retry",
					"source", ref.SourceKey, "type", ref.EdgeType, "target", ref.TargetKey, "error", err)
			}
		}
	}
}

func (p *Projector) saveEdge(ctx context.Context, ref model.Reference) error {
	if !validEdgeTypes[ref.EdgeType] {
		return fmt.Errorf("unknown edge type %q", ref.EdgeType)
	}
	q := fmt.Sprintf(saveEdgeQueryTmpl, ref.SourceKind.Label(), ref.TargetKind.Label(), ref.EdgeType)
	result, err := p.driver.ExecuteQuery(ctx, q, map[string]interface{}{
		"source_key": ref.SourceKey,
		"target_key": ref.TargetKey,
		"field":      ref.Field,
	})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return &model.DependencyPending{Ref: ref}
	}
	return nil
}

func (p *Projector) enqueue(ref model.Reference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[tripleKey(ref)] = ref
}

// PendingCount reports how many edges are waiting on a future projection pass.
func (p *Projector) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RetryPending drains the deferred-edge queue. Edges that still cannot
// resolve stay queued for the next pass.
func (p *Projector) RetryPending(ctx context.Context) (resolved, remaining int) {
	p.mu.Lock()
	refs := make([]model.Reference, 0, len(p.pending))
	for _, ref := range p.pending {
		refs = append(refs, ref)
	}
	p.pending = make(map[string]model.Reference)
	p.mu.Unlock()

	for _, ref := range refs {
		if err := p.saveEdge(ctx, ref); err != nil {
			p.enqueue(ref)
			continue
		}
		resolved++
	}
	return resolved, p.PendingCount()
}

// NodeExists resolves a natural key to a projected node.
func (p *Projector) NodeExists(ctx context.Context, kind model.Kind, naturalKey string) (bool, error) {
	q := fmt.Sprintf(nodeExistsQueryTmpl, kind.Label())
	result, err := p.driver.ExecuteQuery(ctx, q, map[string]interface{}{"natural_key": naturalKey})
	if err != nil {
		return false, err
	}
	return len(result.Records) > 0, nil
}

// DeleteNode removes the node and every edge touching it. Used only when an
// operator delete cascades from the canonical store.
func (p *Projector) DeleteNode(ctx context.Context, kind model.Kind, naturalKey string) error {
	q := fmt.Sprintf(deleteNodeQueryTmpl, kind.Label())
	_, err := p.driver.ExecuteQuery(ctx, q, map[string]interface{}{"natural_key": naturalKey})
	return err
}

func (p *Projector) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	q := fmt.Sprintf(listKeysQueryTmpl, kind.Label())
	result, err := p.driver.ExecuteQuery(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		v, _ := rec.Get("natural_key")
		if s, ok := v.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// CountEdges returns the number of edges touching one node, in either
// direction. The dedupe engine uses it to prove merges never drop
// relationships.
func (p *Projector) CountEdges(ctx context.Context, kind model.Kind, naturalKey string) (int64, error) {
	q := fmt.Sprintf(countEdgesQueryTmpl, kind.Label())
	result, err := p.driver.ExecuteQuery(ctx, q, map[string]interface{}{"natural_key": naturalKey})
	if err != nil {
		return 0, err
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	v, _ := result.Records[0].Get("edges")
	n, _ := v.(int64)
	return n, nil
}

// RepointEdges moves every edge touching the loser onto the survivor,
// preserving type and properties, then leaves the loser bare for deletion.
// MERGE on the new endpoints keeps the operation idempotent.
func (p *Projector) RepointEdges(ctx context.Context, kind model.Kind, loserKey, survivorKey string) error {
	label := kind.Label()
	for _, edgeType := range model.EdgeTypes() {
		out := fmt.Sprintf(repointOutgoingQueryTmpl, label, edgeType, label, edgeType)
		if _, err := p.driver.ExecuteQuery(ctx, out, map[string]interface{}{
			"loser":    loserKey,
			"survivor": survivorKey,
		}); err != nil {
			return err
		}
		in := fmt.Sprintf(repointIncomingQueryTmpl, edgeType, label, label, edgeType)
		if _, err := p.driver.ExecuteQuery(ctx, in, map[string]interface{}{
			"loser":    loserKey,
			"survivor": survivorKey,
		}); err != nil {
			return err
		}
	}
	return nil
}
