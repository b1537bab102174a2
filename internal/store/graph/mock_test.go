package graph

import (
	"context"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/lorekeep/lorekeep/internal/model"
)

// fakeDriver is an in-memory stand-in for the graph store. It understands
// just enough of the query templates in queries.go to honor their
// match-or-create contracts.
type fakeDriver struct {
	nodes map[string]bool              // label|key
	edges map[string]map[string]string // source label|key -> "type|target label|key" -> field
	Err   error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nodes: make(map[string]bool),
		edges: make(map[string]map[string]string),
	}
}

var (
	mergeNodeRe  = regexp.MustCompile(`MERGE \(n:(\w+)`)
	matchNodeRe  = regexp.MustCompile(`MATCH \(n:(\w+)`)
	edgeSourceRe = regexp.MustCompile(`MATCH \(s:(\w+)`)
	edgeTargetRe = regexp.MustCompile(`MATCH \(t:(\w+)`)
	edgeTypeRe   = regexp.MustCompile(`\[e:(\w+)\]`)
)

func nodeID(label, key string) string { return label + "|" + key }

func record(keys []string, values []any) *db.Record {
	return &db.Record{Keys: keys, Values: values}
}

func (f *fakeDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	if f.Err != nil {
		return neo4j.EagerResult{}, f.Err
	}

	switch {
	case strings.Contains(query, "MERGE (n:"):
		label := mergeNodeRe.FindStringSubmatch(query)[1]
		key := params["natural_key"].(string)
		f.nodes[nodeID(label, key)] = true
		return neo4j.EagerResult{Records: []*db.Record{
			record([]string{"natural_key"}, []any{key}),
		}}, nil

	case strings.Contains(query, "MERGE (s)-[e:"):
		srcLabel := edgeSourceRe.FindStringSubmatch(query)[1]
		tgtLabel := edgeTargetRe.FindStringSubmatch(query)[1]
		edgeType := edgeTypeRe.FindStringSubmatch(query)[1]
		src := nodeID(srcLabel, params["source_key"].(string))
		tgt := nodeID(tgtLabel, params["target_key"].(string))
		if !f.nodes[src] || !f.nodes[tgt] {
			return neo4j.EagerResult{}, nil
		}
		if f.edges[src] == nil {
			f.edges[src] = make(map[string]string)
		}
		field, _ := params["field"].(string)
		f.edges[src][edgeType+"|"+tgt] = field
		return neo4j.EagerResult{Records: []*db.Record{
			record([]string{"field"}, []any{field}),
		}}, nil

	case strings.Contains(query, "DETACH DELETE"):
		label := matchNodeRe.FindStringSubmatch(query)[1]
		id := nodeID(label, params["natural_key"].(string))
		delete(f.nodes, id)
		delete(f.edges, id)
		for src, out := range f.edges {
			for ek := range out {
				if strings.HasSuffix(ek, "|"+id) {
					delete(f.edges[src], ek)
				}
			}
		}
		return neo4j.EagerResult{}, nil

	case strings.Contains(query, "count(e) AS edges"):
		label := regexp.MustCompile(`MATCH \(:(\w+)`).FindStringSubmatch(query)[1]
		id := nodeID(label, params["natural_key"].(string))
		n := int64(len(f.edges[id]))
		for src, out := range f.edges {
			if src == id {
				continue
			}
			for ek := range out {
				if strings.HasSuffix(ek, "|"+id) {
					n++
				}
			}
		}
		return neo4j.EagerResult{Records: []*db.Record{
			record([]string{"edges"}, []any{n}),
		}}, nil

	case strings.Contains(query, "ORDER BY natural_key"):
		label := matchNodeRe.FindStringSubmatch(query)[1]
		var recs []*db.Record
		for id := range f.nodes {
			parts := strings.SplitN(id, "|", 2)
			if parts[0] == label {
				recs = append(recs, record([]string{"natural_key"}, []any{parts[1]}))
			}
		}
		return neo4j.EagerResult{Records: recs}, nil

	case strings.Contains(query, "RETURN n.natural_key AS natural_key"):
		label := matchNodeRe.FindStringSubmatch(query)[1]
		key := params["natural_key"].(string)
		if !f.nodes[nodeID(label, key)] {
			return neo4j.EagerResult{}, nil
		}
		return neo4j.EagerResult{Records: []*db.Record{
			record([]string{"natural_key"}, []any{key}),
		}}, nil

	case strings.Contains(query, "MATCH (loser:"):
		f.repoint(query, params, true)
		return neo4j.EagerResult{}, nil

	case strings.Contains(query, "->(loser:"):
		f.repoint(query, params, false)
		return neo4j.EagerResult{}, nil
	}

	return neo4j.EagerResult{}, nil
}

func (f *fakeDriver) repoint(query string, params map[string]interface{}, outgoing bool) {
	label := regexp.MustCompile(`loser:(\w+)`).FindStringSubmatch(query)[1]
	edgeType := edgeTypeRe.FindStringSubmatch(query)[1]
	loser := nodeID(label, params["loser"].(string))
	survivor := nodeID(label, params["survivor"].(string))
	if !f.nodes[survivor] {
		return
	}
	if outgoing {
		for ek, field := range f.edges[loser] {
			// Edges into the survivor stay put; the query's WHERE filters
			// them so no self-loop is minted.
			if !strings.HasPrefix(ek, edgeType+"|") || strings.HasSuffix(ek, "|"+survivor) {
				continue
			}
			if f.edges[survivor] == nil {
				f.edges[survivor] = make(map[string]string)
			}
			f.edges[survivor][ek] = field
			delete(f.edges[loser], ek)
		}
		return
	}
	for src, out := range f.edges {
		if src == survivor {
			continue
		}
		for ek, field := range out {
			if strings.HasPrefix(ek, edgeType+"|") && strings.HasSuffix(ek, "|"+loser) {
				out[edgeType+"|"+survivor] = field
				delete(out, ek)
			}
		}
	}
}

func (f *fakeDriver) BuildIndices(ctx context.Context) error { return nil }
func (f *fakeDriver) Close(ctx context.Context) error        { return nil }

func (f *fakeDriver) hasEdge(srcKind model.Kind, srcKey, edgeType string, tgtKind model.Kind, tgtKey string) bool {
	out := f.edges[nodeID(srcKind.Label(), srcKey)]
	if out == nil {
		return false
	}
	_, ok := out[edgeType+"|"+nodeID(tgtKind.Label(), tgtKey)]
	return ok
}
