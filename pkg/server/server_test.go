package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/neuroweave/pkg/events"
	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/metrics"
	"github.com/haivivi/neuroweave/pkg/server"
)

// lockedStore serializes access to a store shared with the server.
type lockedStore struct {
	mu sync.Mutex
	s  *graph.Store
}

func newLockedStore() *lockedStore {
	return &lockedStore{s: graph.NewStore(nil)}
}

func (l *lockedStore) Snapshot() graph.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Snapshot()
}

func (l *lockedStore) Stats() graph.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Stats()
}

func (l *lockedStore) addNode(name string) graph.Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.AddNode(graph.NewNode(name, graph.NodeEntity, nil))
}

func (l *lockedStore) addEdge(t *testing.T, a, b graph.Node, rel string) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.s.AddEdge(graph.NewEdge(a.ID, b.ID, rel, 0.9, nil))
	require.NoError(t, err)
}

func startServer(t *testing.T, src server.GraphSource, cfg server.Config) *server.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv, err := server.New(src, cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *server.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws://" + srv.Addr().String() + "/ws/graph" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHealth(t *testing.T) {
	src := newLockedStore()
	a := src.addNode("Alex")
	b := src.addNode("Python")
	src.addEdge(t, a, b, "prefers")

	srv, err := server.New(src, server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var h server.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, graph.Stats{NodeCount: 2, EdgeCount: 1}, h.Graph)
	assert.Equal(t, 0, h.WebsocketClients)
}

func TestGraph(t *testing.T) {
	src := newLockedStore()
	a := src.addNode("Alex")
	b := src.addNode("Python")
	src.addEdge(t, a, b, "prefers")

	srv, err := server.New(src, server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/graph")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap graph.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, "Alex", snap.Nodes[0].Name)
	assert.Equal(t, "prefers", snap.Edges[0].Relation)
	assert.Equal(t, 2, snap.Stats.NodeCount)
}

func TestIndex(t *testing.T) {
	srv, err := server.New(newLockedStore(), server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, string(body), "/ws/graph")
}

func TestMetricsRoute(t *testing.T) {
	reg := metrics.NewRegistry()
	srv, err := server.New(newLockedStore(), server.Config{Registry: reg})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "neuroweave_websocket_clients 0")
}

func TestMetricsRoute_AbsentWithoutRegistry(t *testing.T) {
	srv, err := server.New(newLockedStore(), server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_SnapshotThenEvents(t *testing.T) {
	src := newLockedStore()
	src.addNode("Alex")
	bus := events.NewBus(events.BusConfig{})
	src.s.AttachBus(bus)

	srv := startServer(t, src, server.Config{Bus: bus})
	assert.Equal(t, 1, bus.SubscriberCount())

	conn := dial(t, srv, "")
	snap := readJSON(t, conn)
	assert.Equal(t, "snapshot", snap["type"])
	data := snap["data"].(map[string]any)
	assert.Len(t, data["nodes"], 1)

	src.addNode("Lena")
	msg := readJSON(t, conn)
	assert.Equal(t, "node_added", msg["type"])
	assert.Equal(t, "Lena", msg["data"].(map[string]any)["name"])
	assert.Equal(t, float64(2), msg["stats"].(map[string]any)["node_count"])
	assert.Equal(t, 1, srv.ClientCount())
}

func TestWebSocket_Msgpack(t *testing.T) {
	src := newLockedStore()
	src.addNode("Alex")
	bus := events.NewBus(events.BusConfig{})
	src.s.AttachBus(bus)
	srv := startServer(t, src, server.Config{Bus: bus})

	conn := dial(t, srv, "?encoding=msgpack")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var msg server.Message
	require.NoError(t, msgpack.Unmarshal(data, &msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Nil(t, msg.Stats)
}

func TestWebSocket_UnknownEncoding(t *testing.T) {
	srv := startServer(t, newLockedStore(), server.Config{})
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/ws/graph?encoding=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_LegacyQueue(t *testing.T) {
	src := newLockedStore()
	q := server.NewLegacyQueue(src.s)
	srv := startServer(t, src, server.Config{Queue: q})

	conn := dial(t, srv, "")
	assert.Equal(t, "snapshot", readJSON(t, conn)["type"])

	a := src.addNode("Alex")
	b := src.addNode("Rust")
	src.addEdge(t, a, b, "learning")

	// Frames carry the counts as of their own event, even though all three
	// mutations happened before the first frame was sent.
	for _, want := range []float64{1, 2} {
		msg := readJSON(t, conn)
		assert.Equal(t, "node_added", msg["type"])
		assert.Equal(t, want, msg["stats"].(map[string]any)["node_count"])
	}
	edge := readJSON(t, conn)
	assert.Equal(t, "edge_added", edge["type"])
	assert.Equal(t, "learning", edge["data"].(map[string]any)["relation"])
	assert.Equal(t, float64(1), edge["stats"].(map[string]any)["edge_count"])
}

func TestShutdown(t *testing.T) {
	src := newLockedStore()
	bus := events.NewBus(events.BusConfig{})
	src.s.AttachBus(bus)

	srv, err := server.New(src, server.Config{Addr: "127.0.0.1:0", Bus: bus})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	assert.Error(t, srv.Start(context.Background()))

	conn := dial(t, srv, "")
	readJSON(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))

	assert.Equal(t, 0, bus.SubscriberCount())
	assert.Equal(t, 0, srv.ClientCount())
	assert.Nil(t, srv.Addr())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
