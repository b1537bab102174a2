// Package dedupe detects near-duplicate entities and designates a canonical
// survivor. Detection is read-only; Merge is destructive and therefore only
// runs on explicit operator invocation, never during ordinary sync.
package dedupe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agext/levenshtein"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
	"github.com/lorekeep/lorekeep/internal/naturalkey"
)

type CanonicalStore interface {
	ListEntities(ctx context.Context, kind model.Kind) ([]*model.Entity, error)
	Delete(ctx context.Context, kind model.Kind, naturalKey string) error
}

type GraphStore interface {
	Project(ctx context.Context, e *model.Entity) error
	RepointEdges(ctx context.Context, kind model.Kind, loserKey, survivorKey string) error
	DeleteNode(ctx context.Context, kind model.Kind, naturalKey string) error
}

type VectorStore interface {
	Delete(ctx context.Context, kind model.Kind, naturalKey string) bool
}

type Engine struct {
	canonical CanonicalStore
	graph     GraphStore
	vector    VectorStore
	threshold float64
	log       *logger.Logger
}

func NewEngine(log *logger.Logger, canonical CanonicalStore, graph GraphStore, vector VectorStore, similarityThreshold float64) *Engine {
	return &Engine{
		canonical: canonical,
		graph:     graph,
		vector:    vector,
		threshold: similarityThreshold,
		log:       log.With("component", "dedupe"),
	}
}

// FindDuplicates groups entities that share a natural key (possible when
// something bypassed the store-level constraint) or whose keys sit above the
// name-similarity threshold. Every group carries its precedence-selected
// survivor.
func (e *Engine) FindDuplicates(ctx context.Context, kind model.Kind) ([]model.DuplicateGroup, error) {
	entities, err := e.canonical.ListEntities(ctx, kind)
	if err != nil {
		return nil, err
	}

	var groups []model.DuplicateGroup

	// Exact collisions first: re-derive the key from the stored name so that
	// records written before normalization was uniform ("Han Solo" stored
	// verbatim next to "han_solo") land in the same group.
	byDerived := make(map[string][]*model.Entity)
	for _, ent := range entities {
		derived, err := naturalkey.Derive(ent.Name)
		if err != nil {
			derived = ent.NaturalKey
		}
		byDerived[derived] = append(byDerived[derived], ent)
	}
	collisionKeys := make([]string, 0)
	for key, members := range byDerived {
		if len(members) > 1 {
			collisionKeys = append(collisionKeys, key)
		}
	}
	sort.Strings(collisionKeys)
	for _, key := range collisionKeys {
		members := byDerived[key]
		groups = append(groups, model.DuplicateGroup{
			Kind:     kind,
			Keys:     keysOf(members),
			Survivor: Survivor(members).NaturalKey,
			Reason:   "natural_key_collision",
		})
	}

	// Then high-similarity pairs across distinct identities, union-found
	// into groups.
	distinct := make([]*model.Entity, 0, len(byDerived))
	for _, members := range byDerived {
		distinct = append(distinct, members[0])
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].NaturalKey < distinct[j].NaturalKey })

	parent := make(map[string]string, len(distinct))
	var find func(string) string
	find = func(k string) string {
		if parent[k] != k {
			parent[k] = find(parent[k])
		}
		return parent[k]
	}
	for _, ent := range distinct {
		parent[ent.NaturalKey] = ent.NaturalKey
	}
	for i := 0; i < len(distinct); i++ {
		for j := i + 1; j < len(distinct); j++ {
			a, b := distinct[i].NaturalKey, distinct[j].NaturalKey
			if levenshtein.Similarity(a, b, levenshtein.NewParams()) >= e.threshold {
				parent[find(a)] = find(b)
			}
		}
	}
	clusters := make(map[string][]*model.Entity)
	for _, ent := range distinct {
		root := find(ent.NaturalKey)
		clusters[root] = append(clusters[root], ent)
	}
	roots := make([]string, 0, len(clusters))
	for root, members := range clusters {
		if len(members) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)
	for _, root := range roots {
		members := clusters[root]
		groups = append(groups, model.DuplicateGroup{
			Kind:     kind,
			Keys:     keysOf(members),
			Survivor: Survivor(members).NaturalKey,
			Reason:   "name_similarity",
		})
	}

	return groups, nil
}

// Survivor applies the precedence rule: canonical beats non-canonical, then
// higher version, then earliest LastUpdated (the oldest stable record).
func Survivor(members []*model.Entity) *model.Entity {
	best := members[0]
	for _, m := range members[1:] {
		if beats(m, best) {
			best = m
		}
	}
	return best
}

func beats(a, b *model.Entity) bool {
	if a.Canonical != b.Canonical {
		return a.Canonical
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.LastUpdated.Before(b.LastUpdated)
}

// Merge removes every non-survivor in the group after re-pointing its graph
// edges to the survivor. The backup manifest is assembled before any
// mutation so the operation can be rolled back by re-upserting.
func (e *Engine) Merge(ctx context.Context, group model.DuplicateGroup) (*model.BackupManifest, error) {
	entities, err := e.canonical.ListEntities(ctx, group.Kind)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*model.Entity, len(entities))
	for _, ent := range entities {
		byKey[ent.NaturalKey] = ent
	}

	members := make([]*model.Entity, 0, len(group.Keys))
	seen := make(map[string]bool, len(group.Keys))
	for _, key := range group.Keys {
		if seen[key] {
			// Two rows under one stored key means the store constraint itself
			// was violated; that needs operator repair, not a key-scoped merge.
			return nil, fmt.Errorf("group for %s/%s holds multiple rows under one key, refusing to merge", group.Kind, key)
		}
		seen[key] = true
		ent, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("duplicate group member %s/%s no longer exists", group.Kind, key)
		}
		members = append(members, ent)
	}

	survivor := group.Survivor
	if survivor == "" {
		survivor = Survivor(members).NaturalKey
	}
	if !seen[survivor] {
		return nil, fmt.Errorf("survivor %s/%s is not a member of the group", group.Kind, survivor)
	}
	survivorEntity := byKey[survivor]

	manifest := &model.BackupManifest{
		Kind:      group.Kind,
		Survivor:  survivor,
		CreatedAt: time.Now().UTC(),
	}
	for _, m := range members {
		if m.NaturalKey != survivor {
			manifest.Removed = append(manifest.Removed, *m)
		}
	}
	if len(manifest.Removed) == 0 {
		return manifest, nil
	}

	// The survivor may have drifted out of the graph store (in canonical,
	// never projected); re-pointing against a missing node matches nothing
	// and the loser's edges would vanish with its DETACH DELETE. MERGE the
	// survivor from its canonical attributes first so every moved edge has
	// an endpoint.
	if err := e.graph.Project(ctx, survivorEntity); err != nil {
		return nil, fmt.Errorf("project survivor %s: %w", survivor, err)
	}

	for _, loser := range manifest.Removed {
		// Re-point before removal: the merge must never reduce the set of
		// distinct relationships.
		if err := e.graph.RepointEdges(ctx, group.Kind, loser.NaturalKey, survivor); err != nil {
			return nil, fmt.Errorf("repoint %s -> %s: %w", loser.NaturalKey, survivor, err)
		}
		if err := e.graph.DeleteNode(ctx, group.Kind, loser.NaturalKey); err != nil {
			return nil, fmt.Errorf("delete graph node %s: %w", loser.NaturalKey, err)
		}
		e.vector.Delete(ctx, group.Kind, loser.NaturalKey)
		if err := e.canonical.Delete(ctx, group.Kind, loser.NaturalKey); err != nil {
			return nil, fmt.Errorf("delete canonical %s: %w", loser.NaturalKey, err)
		}
		e.log.Info("merged duplicate",
			"kind", group.Kind, "removed", loser.NaturalKey, "survivor", survivor)
	}

	return manifest, nil
}

func keysOf(members []*model.Entity) []string {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, m.NaturalKey)
	}
	sort.Strings(keys)
	return keys
}
