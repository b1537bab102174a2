package model

import "time"

// StoreLatency is the measured duration of one store's full-key-set query.
type StoreLatency struct {
	Store    string        `json:"store"`
	Duration time.Duration `json:"duration"`
	Slow     bool          `json:"slow"`
	Err      string        `json:"error,omitempty"`
}

// DuplicateGroup is a set of entities that collapse to the same identity:
// either sharing a natural key outright or exceeding the name-similarity
// threshold. Survivor is filled in by the dedupe engine's precedence rule.
type DuplicateGroup struct {
	Kind     Kind     `json:"kind"`
	Keys     []string `json:"keys"`
	Survivor string   `json:"survivor,omitempty"`
	Reason   string   `json:"reason"` // "natural_key_collision" or "name_similarity"
}

// AuditRecord is the read-only output of one integrity pass for a kind.
// Vector gaps are warnings (reduced recall), not errors.
type AuditRecord struct {
	Kind          Kind             `json:"kind"`
	GeneratedAt   time.Time        `json:"generated_at"`
	CanonicalKeys int              `json:"canonical_count"`
	GraphKeys     int              `json:"graph_count"`
	VectorKeys    int              `json:"vector_count"`
	MissingGraph  []string         `json:"missing_in_graph,omitempty"`
	MissingVector []string         `json:"missing_in_vector,omitempty"`
	GraphOrphans  []string         `json:"graph_orphans,omitempty"`
	VectorOrphans []string         `json:"vector_orphans,omitempty"`
	Duplicates    []DuplicateGroup `json:"duplicates,omitempty"`
	Latencies     []StoreLatency   `json:"latencies"`
}

// Clean reports whether the audit found no drift, orphans, or duplicates.
// Latency flags do not affect cleanliness.
func (r *AuditRecord) Clean() bool {
	return len(r.MissingGraph) == 0 &&
		len(r.MissingVector) == 0 &&
		len(r.GraphOrphans) == 0 &&
		len(r.VectorOrphans) == 0 &&
		len(r.Duplicates) == 0
}

// BackupManifest lists everything a destructive merge removed, captured
// before any mutation so an operator can restore by re-upserting.
type BackupManifest struct {
	Kind      Kind      `json:"kind"`
	Survivor  string    `json:"survivor"`
	CreatedAt time.Time `json:"created_at"`
	Removed   []Entity  `json:"removed"`
}
