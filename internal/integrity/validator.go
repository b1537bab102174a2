// Package integrity audits cross-store consistency. The validator only
// reads; every finding is reported, never remediated. Its output is a
// snapshot and may reflect transient inconsistency from in-flight batches.
package integrity

import (
	"context"
	"sort"
	"time"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

type CanonicalStore interface {
	ListKeys(ctx context.Context, kind model.Kind) ([]string, error)
	FindCollisions(ctx context.Context, kind model.Kind) ([]string, error)
}

type KeyLister interface {
	ListKeys(ctx context.Context, kind model.Kind) ([]string, error)
}

type Validator struct {
	canonical        CanonicalStore
	graph            KeyLister
	vector           KeyLister
	latencyThreshold time.Duration
	log              *logger.Logger
}

func NewValidator(log *logger.Logger, canonical CanonicalStore, graph, vector KeyLister, latencyThreshold time.Duration) *Validator {
	return &Validator{
		canonical:        canonical,
		graph:            graph,
		vector:           vector,
		latencyThreshold: latencyThreshold,
		log:              log.With("component", "integrity"),
	}
}

// Audit fetches the full natural-key set for the kind from each store,
// computes drift and orphan sets, and scans the canonical store for key
// collisions that bypassed the uniqueness constraint.
func (v *Validator) Audit(ctx context.Context, kind model.Kind) (*model.AuditRecord, error) {
	record := &model.AuditRecord{
		Kind:        kind,
		GeneratedAt: time.Now().UTC(),
	}

	canonicalKeys, canonicalLat, err := v.timedKeys(ctx, "canonical", v.canonical, kind)
	record.Latencies = append(record.Latencies, canonicalLat)
	if err != nil {
		// No canonical baseline means nothing else is meaningful.
		return nil, err
	}

	graphKeys, graphLat, graphErr := v.timedKeys(ctx, "graph", v.graph, kind)
	record.Latencies = append(record.Latencies, graphLat)

	vectorKeys, vectorLat, vectorErr := v.timedKeys(ctx, "vector", v.vector, kind)
	record.Latencies = append(record.Latencies, vectorLat)

	record.CanonicalKeys = len(canonicalKeys)
	canonicalSet := toSet(canonicalKeys)

	if graphErr == nil {
		record.GraphKeys = len(graphKeys)
		graphSet := toSet(graphKeys)
		record.MissingGraph = diff(canonicalSet, graphSet)
		record.GraphOrphans = diff(graphSet, canonicalSet)
	}
	if vectorErr == nil {
		record.VectorKeys = len(vectorKeys)
		vectorSet := toSet(vectorKeys)
		record.MissingVector = diff(canonicalSet, vectorSet)
		record.VectorOrphans = diff(vectorSet, canonicalSet)
	}

	collisions, err := v.canonical.FindCollisions(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, key := range collisions {
		record.Duplicates = append(record.Duplicates, model.DuplicateGroup{
			Kind:   kind,
			Keys:   []string{key},
			Reason: "natural_key_collision",
		})
	}

	if !record.Clean() {
		v.log.Warn("audit found inconsistencies",
			"kind", kind,
			"missing_graph", len(record.MissingGraph),
			"missing_vector", len(record.MissingVector),
			"graph_orphans", len(record.GraphOrphans),
			"vector_orphans", len(record.VectorOrphans),
			"duplicates", len(record.Duplicates))
	}
	return record, nil
}

// AuditAll runs Audit for every kind.
func (v *Validator) AuditAll(ctx context.Context) ([]*model.AuditRecord, error) {
	records := make([]*model.AuditRecord, 0, len(model.Kinds()))
	for _, kind := range model.Kinds() {
		record, err := v.Audit(ctx, kind)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (v *Validator) timedKeys(ctx context.Context, store string, lister KeyLister, kind model.Kind) ([]string, model.StoreLatency, error) {
	start := time.Now()
	keys, err := lister.ListKeys(ctx, kind)
	elapsed := time.Since(start)

	lat := model.StoreLatency{
		Store:    store,
		Duration: elapsed,
		Slow:     elapsed > v.latencyThreshold,
	}
	if err != nil {
		lat.Err = err.Error()
	}
	if lat.Slow {
		v.log.Warn("slow key-set query", "store", store, "kind", kind, "duration", elapsed)
	}
	return keys, lat, err
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func diff(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
