// Package ingest materializes extraction results into a [graph.Store].
//
// Entities are deduplicated by case-insensitive name against the nodes
// already in the store. Relations whose endpoints cannot be resolved are
// handled by the configured [Policy].
package ingest

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/extract"
	"github.com/haivivi/neuroweave/pkg/graph"
)

// Policy decides what happens to a relation with an unknown endpoint.
type Policy string

const (
	// Lenient creates a concept node for each unknown endpoint.
	Lenient Policy = "lenient"

	// Strict skips the relation and counts it in Stats.EdgesSkipped.
	Strict Policy = "strict"
)

// ParsePolicy parses a policy name. The empty string is Lenient.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case "", Lenient:
		return Lenient, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("ingest: unknown policy %q", s)
}

// typeMap maps extraction entity types onto node types. Anything else is a
// concept.
var typeMap = map[string]graph.NodeType{
	"person":       graph.NodeEntity,
	"organization": graph.NodeEntity,
	"place":        graph.NodeEntity,
	"tool":         graph.NodeConcept,
	"concept":      graph.NodeConcept,
	"preference":   graph.NodePreference,
}

// NodeTypeFor returns the node type for an extraction entity type.
func NodeTypeFor(entityType string) graph.NodeType {
	if t, ok := typeMap[strings.ToLower(entityType)]; ok {
		return t
	}
	return graph.NodeConcept
}

// Stats counts the mutations of one Ingest call.
type Stats struct {
	NodesAdded   int `json:"nodes_added"`
	EdgesAdded   int `json:"edges_added"`
	EdgesSkipped int `json:"edges_skipped"`
}

// Config configures a Bridge.
type Config struct {
	Policy Policy // default Lenient
	Logger *zap.Logger
}

// Bridge writes extraction results into a store.
type Bridge struct {
	store  *graph.Store
	policy Policy
	log    *zap.Logger
}

// NewBridge creates a Bridge writing into s.
func NewBridge(s *graph.Store, cfg Config) *Bridge {
	if cfg.Policy == "" {
		cfg.Policy = Lenient
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bridge{store: s, policy: cfg.Policy, log: cfg.Logger}
}

// Policy returns the endpoint policy in effect.
func (b *Bridge) Policy() Policy { return b.policy }

// Ingest adds the entities and relations of r to the store. An empty result
// is a no-op.
func (b *Bridge) Ingest(r extract.Result) Stats {
	var st Stats
	if r.Empty() {
		return st
	}

	index := make(map[string]string, b.store.NodeCount())
	b.store.EachNode(func(n graph.Node) bool {
		index[strings.ToLower(n.Name)] = n.ID
		return true
	})

	for _, ent := range r.Entities {
		key := strings.ToLower(ent.Name)
		if id, ok := index[key]; ok {
			b.log.Debug("ingest.entity_exists", zap.String("name", ent.Name), zap.String("node_id", id))
			continue
		}
		n := b.store.AddNode(graph.NewNode(ent.Name, NodeTypeFor(ent.EntityType),
			without(ent.Properties, "name", "node_type", "id")))
		index[key] = n.ID
		st.NodesAdded++
	}

	resolve := func(name, side string) (string, bool) {
		if id, ok := index[strings.ToLower(name)]; ok {
			return id, true
		}
		if b.policy == Strict {
			return "", false
		}
		b.log.Info("ingest.auto_create_entity", zap.String("name", name), zap.String("reason", "missing_"+side))
		n := b.store.AddNode(graph.NewNode(name, graph.NodeConcept, nil))
		index[strings.ToLower(name)] = n.ID
		st.NodesAdded++
		return n.ID, true
	}

	for _, rel := range r.Relations {
		src, ok := resolve(rel.Source, "source")
		if !ok {
			b.skip(&st, rel, "missing_source")
			continue
		}
		dst, ok := resolve(rel.Target, "target")
		if !ok {
			b.skip(&st, rel, "missing_target")
			continue
		}
		e := graph.NewEdge(src, dst, rel.Relation, rel.Confidence,
			without(rel.Properties, "source_id", "target_id", "relation", "confidence", "id"))
		if _, err := b.store.AddEdge(e); err != nil {
			b.log.Warn("ingest.edge_rejected", zap.String("relation", rel.Relation), zap.Error(err))
			st.EdgesSkipped++
			continue
		}
		st.EdgesAdded++
	}

	b.log.Info("ingest.complete",
		zap.Int("nodes_added", st.NodesAdded),
		zap.Int("edges_added", st.EdgesAdded),
		zap.Int("edges_skipped", st.EdgesSkipped),
		zap.Int("total_nodes", b.store.NodeCount()),
		zap.Int("total_edges", b.store.EdgeCount()),
	)
	return st
}

func (b *Bridge) skip(st *Stats, rel extract.Relation, reason string) {
	b.log.Info("ingest.edge_skipped",
		zap.String("source", rel.Source),
		zap.String("target", rel.Target),
		zap.String("relation", rel.Relation),
		zap.String("reason", reason),
	)
	st.EdgesSkipped++
}

func without(m map[string]any, keys ...string) graph.Props {
	out := make(graph.Props, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
