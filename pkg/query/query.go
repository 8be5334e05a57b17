// Package query extracts subgraphs from a [graph.Store] without calling any
// external capability. Results are deterministic for a given store state.
package query

import (
	"strings"

	"github.com/haivivi/neuroweave/pkg/graph"
)

// Params are the inputs to [Subgraph].
type Params struct {
	// Entities are seed node names. Empty means whole-graph mode.
	Entities []string `json:"entities"`

	// Relations is an allow-list of relation labels. Empty means no filter.
	Relations []string `json:"relations"`

	// MinConfidence drops edges below this confidence.
	MinConfidence float64 `json:"min_confidence"`

	// MaxHops bounds traversal from the seeds.
	MaxHops int `json:"max_hops"`
}

// DefaultParams returns whole-graph parameters with MaxHops 1.
func DefaultParams() Params {
	return Params{MaxHops: 1}
}

// Result is the outcome of a subgraph query.
type Result struct {
	Nodes         []graph.Node `json:"nodes"`
	Edges         []graph.Edge `json:"edges"`
	SeedNodeIDs   []string     `json:"seed_node_ids"`
	HopsTraversed int          `json:"hops_traversed"`
	Params        Params       `json:"query_params"`
}

// NodeCount returns the number of result nodes.
func (r *Result) NodeCount() int { return len(r.Nodes) }

// EdgeCount returns the number of result edges.
func (r *Result) EdgeCount() int { return len(r.Edges) }

// Empty reports whether the result has neither nodes nor edges.
func (r *Result) Empty() bool { return len(r.Nodes) == 0 && len(r.Edges) == 0 }

// NodeNames returns the result node names in result order.
func (r *Result) NodeNames() []string {
	out := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		out[i] = n.Name
	}
	return out
}

// RelationTypes returns the distinct relation labels of the result edges in
// first-seen order.
func (r *Result) RelationTypes() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, e := range r.Edges {
		if _, ok := seen[e.Relation]; ok {
			continue
		}
		seen[e.Relation] = struct{}{}
		out = append(out, e.Relation)
	}
	return out
}

// Subgraph resolves seed names, expands them over the undirected adjacency
// up to p.MaxHops, and returns the reachable nodes together with the edges
// between them that pass the relation and confidence filters.
//
// Result nodes and edges are in store insertion order.
func Subgraph(s *graph.Store, p Params) *Result {
	res := &Result{
		Nodes:         []graph.Node{},
		Edges:         []graph.Edge{},
		SeedNodeIDs:   []string{},
		HopsTraversed: p.MaxHops,
		Params:        p,
	}

	seeds := resolveSeeds(s, p.Entities)
	if len(p.Entities) > 0 && len(seeds) == 0 {
		return res
	}
	if seeds != nil {
		res.SeedNodeIDs = seeds
	}

	reachable := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		reachable[id] = struct{}{}
	}
	if len(p.Entities) > 0 && p.MaxHops > 0 {
		expand(s, seeds, p.MaxHops, reachable)
	}

	s.EachNode(func(n graph.Node) bool {
		if _, ok := reachable[n.ID]; ok {
			res.Nodes = append(res.Nodes, n)
		}
		return true
	})

	var allow map[string]struct{}
	if len(p.Relations) > 0 {
		allow = make(map[string]struct{}, len(p.Relations))
		for _, r := range p.Relations {
			allow[r] = struct{}{}
		}
	}

	s.EachEdge(func(e graph.Edge) bool {
		if _, ok := reachable[e.SourceID]; !ok {
			return true
		}
		if _, ok := reachable[e.TargetID]; !ok {
			return true
		}
		if allow != nil {
			if _, ok := allow[e.Relation]; !ok {
				return true
			}
		}
		if e.Confidence < p.MinConfidence {
			return true
		}
		res.Edges = append(res.Edges, e)
		return true
	})

	return res
}

// resolveSeeds maps names to node IDs. With no names, every node is a seed.
// For each name an exact case-insensitive match wins over substring matches.
func resolveSeeds(s *graph.Store, names []string) []string {
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(names) == 0 {
		s.EachNode(func(n graph.Node) bool {
			add(n.ID)
			return true
		})
		return ids
	}

	for _, name := range names {
		want := strings.ToLower(name)
		var exact, partial []string
		s.EachNode(func(n graph.Node) bool {
			have := strings.ToLower(n.Name)
			switch {
			case have == want:
				exact = append(exact, n.ID)
			case strings.Contains(have, want):
				partial = append(partial, n.ID)
			}
			return true
		})
		matches := exact
		if len(matches) == 0 {
			matches = partial
		}
		for _, id := range matches {
			add(id)
		}
	}
	return ids
}

// expand performs a multi-source BFS, adding every node within hops of any
// seed to visited.
func expand(s *graph.Store, seeds []string, hops int, visited map[string]struct{}) {
	frontier := append([]string(nil), seeds...)
	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, n := range s.Adjacent(id) {
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}
}
