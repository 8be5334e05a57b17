package graph

import (
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Store is the in-memory knowledge graph.
//
// Nodes and edges are kept in insertion order; all listing operations return
// records in that order. Re-inserting an existing identifier replaces the
// record in place and keeps its position.
//
// Store is not safe for concurrent use.
type Store struct {
	log *zap.Logger

	nodes     []Node
	nodeIndex map[string]int

	edges     []Edge
	edgeIndex map[string]int

	// incident maps a node ID to the IDs of edges touching it, in the order
	// they were first attached. A self-loop appears once.
	incident map[string][]string

	bus   Publisher
	queue chan<- Event
}

// NewStore creates an empty Store. A nil logger disables logging.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:       log,
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[string]int),
		incident:  make(map[string][]string),
	}
}

// ---------------------------------------------------------------------------
// Event wiring
// ---------------------------------------------------------------------------

// AttachBus routes all subsequent mutation events to p. An attached bus
// takes precedence over a queue. Passing nil detaches the bus.
func (s *Store) AttachBus(p Publisher) { s.bus = p }

// AttachQueue routes mutation events to q when no bus is attached. Sends
// never block: when q is full the event is dropped and a warning logged.
func (s *Store) AttachQueue(q chan<- Event) { s.queue = q }

// Bus returns the attached publisher, or nil.
func (s *Store) Bus() Publisher { return s.bus }

func (s *Store) emit(ev Event) {
	ev.Stats = s.Stats()
	switch {
	case s.bus != nil:
		s.bus.Emit(ev)
	case s.queue != nil:
		select {
		case s.queue <- ev:
		default:
			s.log.Warn("graph.event_queue_full", zap.String("event_type", string(ev.Kind)))
		}
	}
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// AddNode inserts n, or replaces the stored node with the same ID.
// It emits NodeAdded or NodeUpdated accordingly and returns the stored node.
func (s *Store) AddNode(n Node) Node {
	n.Properties = n.Properties.Clone()

	kind := NodeAdded
	if i, ok := s.nodeIndex[n.ID]; ok {
		s.nodes[i] = n
		kind = NodeUpdated
	} else {
		s.nodeIndex[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, n)
	}

	s.emit(Event{Kind: kind, Data: n.Map()})
	s.log.Info("graph."+string(kind),
		zap.String("node_id", n.ID),
		zap.String("name", n.Name),
		zap.String("node_type", string(n.Type)),
	)
	return n
}

// GetNode returns the node with the given ID.
func (s *Store) GetNode(id string) (Node, bool) {
	i, ok := s.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i], true
}

// FindNodes returns the nodes matching f. The name filter is a
// case-insensitive substring match.
func (s *Store) FindNodes(f NodeFilter) []Node {
	needle := strings.ToLower(f.NameContains)
	var out []Node
	for _, n := range s.nodes {
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(n.Name), needle) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// EachNode calls fn for every node in insertion order until fn returns false.
func (s *Store) EachNode(fn func(Node) bool) {
	for _, n := range s.nodes {
		if !fn(n) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// AddEdge inserts e. Both endpoints must already exist; otherwise a
// *MissingEndpointError is returned and the store is unchanged. Parallel
// edges and self-loops are allowed. Re-adding an existing edge ID replaces
// that edge and emits EdgeUpdated.
func (s *Store) AddEdge(e Edge) (Edge, error) {
	if _, ok := s.nodeIndex[e.SourceID]; !ok {
		return Edge{}, &MissingEndpointError{Side: "source", NodeID: e.SourceID}
	}
	if _, ok := s.nodeIndex[e.TargetID]; !ok {
		return Edge{}, &MissingEndpointError{Side: "target", NodeID: e.TargetID}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return Edge{}, ErrInvalidConfidence
	}
	e.Properties = e.Properties.Clone()

	kind := EdgeAdded
	if i, ok := s.edgeIndex[e.ID]; ok {
		old := s.edges[i]
		s.detach(old)
		s.edges[i] = e
		kind = EdgeUpdated
	} else {
		s.edgeIndex[e.ID] = len(s.edges)
		s.edges = append(s.edges, e)
	}
	s.attach(e)

	s.emit(Event{Kind: kind, Data: e.Map()})
	s.log.Info("graph."+string(kind),
		zap.String("edge_id", e.ID),
		zap.String("source", e.SourceID),
		zap.String("target", e.TargetID),
		zap.String("relation", e.Relation),
		zap.Float64("confidence", e.Confidence),
	)
	return e, nil
}

func (s *Store) attach(e Edge) {
	s.incident[e.SourceID] = append(s.incident[e.SourceID], e.ID)
	if e.TargetID != e.SourceID {
		s.incident[e.TargetID] = append(s.incident[e.TargetID], e.ID)
	}
}

func (s *Store) detach(e Edge) {
	drop := func(id string) bool { return id == e.ID }
	s.incident[e.SourceID] = slices.DeleteFunc(s.incident[e.SourceID], drop)
	s.incident[e.TargetID] = slices.DeleteFunc(s.incident[e.TargetID], drop)
}

// GetEdge returns the edge with the given ID.
func (s *Store) GetEdge(id string) (Edge, bool) {
	i, ok := s.edgeIndex[id]
	if !ok {
		return Edge{}, false
	}
	return s.edges[i], true
}

// GetEdges returns the edges matching f in insertion order.
func (s *Store) GetEdges(f EdgeFilter) []Edge {
	var out []Edge
	for _, e := range s.edges {
		if f.SourceID != "" && e.SourceID != f.SourceID {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		if f.Relation != "" && e.Relation != f.Relation {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EachEdge calls fn for every edge in insertion order until fn returns false.
func (s *Store) EachEdge(fn func(Edge) bool) {
	for _, e := range s.edges {
		if !fn(e) {
			return
		}
	}
}

// RelationLabels returns the distinct non-empty relation labels present,
// sorted.
func (s *Store) RelationLabels() []string {
	seen := make(map[string]struct{})
	for _, e := range s.edges {
		if e.Relation != "" {
			seen[e.Relation] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// Adjacent returns the IDs of nodes connected to id by an edge in either
// direction, in first-seen order. A self-loop does not make a node its own
// neighbor.
func (s *Store) Adjacent(id string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, eid := range s.incident[id] {
		e := s.edges[s.edgeIndex[eid]]
		other := e.TargetID
		if other == id {
			other = e.SourceID
		}
		if other == id {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

// Neighbors returns every node within depth hops of id over the undirected
// adjacency, in BFS order, excluding id itself. It returns nil if id is
// absent.
func (s *Store) Neighbors(id string, depth int) []Node {
	if _, ok := s.nodeIndex[id]; !ok {
		return nil
	}
	visited := map[string]struct{}{id: {}}
	frontier := []string{id}
	var out []Node

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range s.Adjacent(cur) {
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
				out = append(out, s.nodes[s.nodeIndex[n]])
			}
		}
		frontier = next
	}
	return out
}

// ---------------------------------------------------------------------------
// Stats and serialization
// ---------------------------------------------------------------------------

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int { return len(s.edges) }

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	return Stats{NodeCount: len(s.nodes), EdgeCount: len(s.edges)}
}

// Snapshot copies the full graph state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Nodes: append([]Node{}, s.nodes...),
		Edges: append([]Edge{}, s.edges...),
		Stats: s.Stats(),
	}
}
