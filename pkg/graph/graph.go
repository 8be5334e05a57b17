// Package graph provides the in-memory knowledge graph: typed, named nodes
// connected by directed, labeled, confidence-weighted edges. Every mutation
// produces an [Event] that is routed to an attached [Publisher] or a bounded
// channel.
//
// The store is single-writer. It applies no internal locking; callers that
// share a [Store] across goroutines must serialize access themselves.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrMissingEndpoint is matched by every *MissingEndpointError.
	ErrMissingEndpoint = errors.New("graph: missing endpoint")

	// ErrInvalidConfidence is returned by AddEdge when the confidence is
	// outside [0, 1].
	ErrInvalidConfidence = errors.New("graph: confidence out of range")

	// ErrInvalidNodeType is returned by ParseNodeType.
	ErrInvalidNodeType = errors.New("graph: invalid node type")
)

// MissingEndpointError reports which side of an edge references a node that
// is not in the store.
type MissingEndpointError struct {
	Side   string // "source" or "target"
	NodeID string
}

func (e *MissingEndpointError) Error() string {
	return fmt.Sprintf("graph: %s node %q not found", e.Side, e.NodeID)
}

// Is makes errors.Is(err, ErrMissingEndpoint) succeed.
func (e *MissingEndpointError) Is(target error) bool {
	return target == ErrMissingEndpoint
}

// ---------------------------------------------------------------------------
// Node types
// ---------------------------------------------------------------------------

// NodeType is the closed set of node kinds.
type NodeType string

const (
	NodeEntity     NodeType = "entity"
	NodeConcept    NodeType = "concept"
	NodePreference NodeType = "preference"
	NodeEpisode    NodeType = "episode"
	NodeExperience NodeType = "experience"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeEntity, NodeConcept, NodePreference, NodeEpisode, NodeExperience:
		return true
	}
	return false
}

// ParseNodeType parses a node type name case-insensitively.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidNodeType, s)
	}
	return t, nil
}

// Props is an open property bag. Values must be JSON-serializable.
type Props map[string]any

// Clone returns a shallow copy of p. A nil Props clones to an empty map.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	maps.Copy(out, p)
	return out
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Node is a vertex in the knowledge graph.
type Node struct {
	ID         string    `json:"id" msgpack:"id"`
	Name       string    `json:"name" msgpack:"name"`
	Type       NodeType  `json:"node_type" msgpack:"node_type"`
	Properties Props     `json:"properties" msgpack:"properties"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
}

// Edge is a directed, labeled connection between two nodes.
type Edge struct {
	ID         string    `json:"id" msgpack:"id"`
	SourceID   string    `json:"source_id" msgpack:"source_id"`
	TargetID   string    `json:"target_id" msgpack:"target_id"`
	Relation   string    `json:"relation" msgpack:"relation"`
	Confidence float64   `json:"confidence" msgpack:"confidence"`
	Properties Props     `json:"properties" msgpack:"properties"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
}

// NewNode builds a node with a generated "n_" identifier.
func NewNode(name string, typ NodeType, props Props) Node {
	return Node{
		ID:         NewID("n_"),
		Name:       name,
		Type:       typ,
		Properties: props.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
}

// NewEdge builds an edge with a generated "e_" identifier.
func NewEdge(sourceID, targetID, relation string, confidence float64, props Props) Edge {
	return Edge{
		ID:         NewID("e_"),
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		Confidence: confidence,
		Properties: props.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
}

// NewID returns prefix followed by 12 random hex characters.
func NewID(prefix string) string {
	u := uuid.New()
	return prefix + strings.ReplaceAll(u.String(), "-", "")[:12]
}

// Map returns the flat record form used in event payloads.
func (n Node) Map() map[string]any {
	return map[string]any{
		"id":         n.ID,
		"name":       n.Name,
		"node_type":  string(n.Type),
		"properties": map[string]any(n.Properties.Clone()),
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	}
}

// Map returns the flat record form used in event payloads.
func (e Edge) Map() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"source_id":  e.SourceID,
		"target_id":  e.TargetID,
		"relation":   e.Relation,
		"confidence": e.Confidence,
		"properties": map[string]any(e.Properties.Clone()),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventKind identifies the mutation an Event describes.
type EventKind string

const (
	NodeAdded   EventKind = "node_added"
	NodeUpdated EventKind = "node_updated"
	EdgeAdded   EventKind = "edge_added"
	EdgeUpdated EventKind = "edge_updated"
)

// Event is an ephemeral notification of a single graph mutation.
type Event struct {
	Kind EventKind      `json:"type" msgpack:"type"`
	Data map[string]any `json:"data" msgpack:"data"`

	// Stats are the store counts right after the mutation. Zero for events
	// not emitted by a Store.
	Stats Stats `json:"stats" msgpack:"stats"`
}

// Publisher receives mutation events. Emit must not block.
type Publisher interface {
	Emit(ev Event)
}

// ---------------------------------------------------------------------------
// Filters and snapshot
// ---------------------------------------------------------------------------

// NodeFilter selects nodes in FindNodes. Zero fields match everything.
type NodeFilter struct {
	Type         NodeType
	NameContains string
}

// EdgeFilter selects edges in GetEdges. Empty fields match everything.
type EdgeFilter struct {
	SourceID string
	TargetID string
	Relation string
}

// Stats holds the graph counters.
type Stats struct {
	NodeCount int `json:"node_count" msgpack:"node_count"`
	EdgeCount int `json:"edge_count" msgpack:"edge_count"`
}

// Snapshot is the full serializable state of a Store.
type Snapshot struct {
	Nodes []Node `json:"nodes" msgpack:"nodes"`
	Edges []Edge `json:"edges" msgpack:"edges"`
	Stats Stats  `json:"stats" msgpack:"stats"`
}
