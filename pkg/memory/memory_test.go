package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/neuroweave/pkg/config"
	"github.com/haivivi/neuroweave/pkg/events"
	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/llm"
	"github.com/haivivi/neuroweave/pkg/memory"
	"github.com/haivivi/neuroweave/pkg/planner"
	"github.com/haivivi/neuroweave/pkg/query"
)

const lenaExtraction = `{
  "entities": [
    {"name": "User", "entity_type": "person"},
    {"name": "Lena", "entity_type": "person"},
    {"name": "sushi", "entity_type": "preference"}
  ],
  "relations": [
    {"source": "User", "target": "Lena", "relation": "married_to", "confidence": 0.9},
    {"source": "Lena", "target": "sushi", "relation": "likes", "confidence": 0.85}
  ]
}`

const lenaPlan = `{"entities": ["Lena"], "relations": ["likes"], "max_hops": 1, "min_confidence": 0.0, "reasoning": "Lena's preferences"}`

// routed answers extraction and planning prompts separately, since both
// receive the same user message from Context.
type routed struct {
	mu      sync.Mutex
	extract string
	plan    string
	err     error
}

func (r *routed) Complete(ctx context.Context, system, user string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.err != nil {
		return "", r.err
	}
	if strings.Contains(system, "query planner") {
		return r.plan, nil
	}
	return r.extract, nil
}

func newMemory(t *testing.T, c llm.Completer, mutate func(*config.Config)) *memory.Memory {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	m, err := memory.New(memory.Config{Settings: cfg, Completer: c})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestNew_InvalidSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Ingest.Policy = "sometimes"
	_, err := memory.New(memory.Config{Settings: cfg})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_DefaultSettings(t *testing.T) {
	m, err := memory.New(memory.Config{})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Ingest.Policy, m.Settings().Ingest.Policy)
	assert.False(t, m.Started())
}

func TestNotStarted(t *testing.T) {
	m, err := memory.New(memory.Config{Completer: llm.NewMock()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Process(ctx, "hello")
	assert.ErrorIs(t, err, memory.ErrNotStarted)
	_, err = m.Query(query.DefaultParams())
	assert.ErrorIs(t, err, memory.ErrNotStarted)
	_, _, err = m.Ask(ctx, "anything?")
	assert.ErrorIs(t, err, memory.ErrNotStarted)
	_, err = m.Context(ctx, "hello")
	assert.ErrorIs(t, err, memory.ErrNotStarted)
	_, err = m.Subscribe(events.HandlerFunc(func(context.Context, graph.Event) error { return nil }))
	assert.ErrorIs(t, err, memory.ErrNotStarted)
	_, err = m.Graph()
	assert.ErrorIs(t, err, memory.ErrNotStarted)

	assert.Equal(t, graph.Stats{}, m.Stats())
	assert.Empty(t, m.Snapshot().Nodes)
	assert.NoError(t, m.Stop(ctx))
}

func TestLifecycle_StartStopIdempotent(t *testing.T) {
	m, err := memory.New(memory.Config{Completer: llm.NewMock()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.Started())

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.Started())
}

func TestLifecycle_RestartKeepsGraph(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)
	ctx := context.Background()

	_, err := m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)
	before := m.Stats()

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, before, m.Stats())
}

func TestProcess(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)

	res, err := m.Process(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)

	assert.Equal(t, 3, res.EntitiesExtracted)
	assert.Equal(t, 2, res.RelationsExtracted)
	assert.Equal(t, 3, res.NodesAdded)
	assert.Equal(t, 2, res.EdgesAdded)
	assert.Equal(t, 0, res.EdgesSkipped)
	assert.GreaterOrEqual(t, res.ExtractionMS, 0.0)
	assert.Equal(t, graph.Stats{NodeCount: 3, EdgeCount: 2}, m.Stats())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"entities_extracted", "relations_extracted", "nodes_added", "edges_added", "edges_skipped", "extraction_ms"} {
		assert.Contains(t, decoded, key)
	}
	assert.NotContains(t, decoded, "Extraction")
}

func TestProcess_RepeatedMessageDedupsNodes(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)
	ctx := context.Background()

	_, err := m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)
	res, err := m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)

	assert.Equal(t, 0, res.NodesAdded)
	assert.Equal(t, 3, m.Stats().NodeCount)
}

func TestProcess_ExtractionFailureIsEmpty(t *testing.T) {
	mock := llm.NewMock()
	mock.SetError(errors.New("provider down"))
	m := newMemory(t, mock, nil)

	res, err := m.Process(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntitiesExtracted)
	assert.Equal(t, 0, res.NodesAdded)
	assert.Equal(t, graph.Stats{}, m.Stats())
}

func TestProcess_ExtractionDisabled(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, func(c *config.Config) { c.Extraction.Enabled = false })

	res, err := m.Process(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntitiesExtracted)
	assert.Equal(t, 0, mock.CallCount())
}

func TestProcess_CancelledContext(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Process(ctx, "My wife Lena loves sushi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, graph.Stats{}, m.Stats())
}

func TestProcess_StrictPolicySkipsUnknownEndpoints(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("tokyo", `{
	  "entities": [{"name": "User", "entity_type": "person"}],
	  "relations": [{"source": "User", "target": "Tokyo", "relation": "traveling_to", "confidence": 0.8}]
	}`)
	m := newMemory(t, mock, func(c *config.Config) { c.Ingest.Policy = "strict" })

	res, err := m.Process(context.Background(), "We're going to Tokyo")
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesAdded)
	assert.Equal(t, 0, res.EdgesAdded)
	assert.Equal(t, 1, res.EdgesSkipped)
}

func TestQuery(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)
	_, err := m.Process(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)

	res, err := m.Query(query.Params{Entities: []string{"lena"}, Relations: []string{"likes"}, MaxHops: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"User", "Lena", "sushi"}, res.NodeNames())
	assert.Equal(t, []string{"likes"}, res.RelationTypes())

	res, err = m.Query(query.Params{Entities: []string{"Nobody"}, MaxHops: 1})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestAsk(t *testing.T) {
	r := &routed{extract: lenaExtraction, plan: lenaPlan}
	m := newMemory(t, r, nil)
	ctx := context.Background()
	_, err := m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)

	res, plan, err := m.Ask(ctx, "what does Lena like?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lena"}, plan.Entities)
	assert.Contains(t, res.NodeNames(), "sushi")
	assert.Equal(t, []string{"likes"}, res.RelationTypes())
}

func TestAsk_FallbackReturnsWholeGraph(t *testing.T) {
	r := &routed{extract: lenaExtraction, plan: "I have no idea"}
	m := newMemory(t, r, nil)
	ctx := context.Background()
	_, err := m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)

	res, plan, err := m.Ask(ctx, "what's going on?")
	require.NoError(t, err)
	assert.Equal(t, planner.FallbackReasoning, plan.Reasoning)
	assert.True(t, plan.IsBroadSearch())
	assert.Equal(t, 3, res.NodeCount())
}

func TestContext(t *testing.T) {
	r := &routed{extract: lenaExtraction, plan: lenaPlan}
	m := newMemory(t, r, nil)

	res, err := m.Context(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Process.NodesAdded)
	require.NotNil(t, res.Plan)
	assert.Equal(t, []string{"likes"}, res.Plan.Relations)
	assert.Contains(t, res.Relevant.NodeNames(), "sushi")
	assert.Equal(t, []string{"likes"}, res.Relevant.RelationTypes())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"process"`)
	assert.Contains(t, string(data), `"relevant"`)
	assert.Contains(t, string(data), `"plan"`)
}

func TestSubscribe(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m := newMemory(t, mock, nil)

	var (
		mu    sync.Mutex
		kinds []graph.EventKind
	)
	h := events.HandlerFunc(func(_ context.Context, ev graph.Event) error {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		return nil
	})
	sub, err := m.Subscribe(h, graph.EdgeAdded)
	require.NoError(t, err)

	_, err = m.Process(context.Background(), "My wife Lena loves sushi")
	require.NoError(t, err)
	bus, err := m.Bus()
	require.NoError(t, err)
	bus.Wait()

	mu.Lock()
	assert.Equal(t, []graph.EventKind{graph.EdgeAdded, graph.EdgeAdded}, kinds)
	mu.Unlock()

	sub.Cancel()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestStop_WaitsForHandlers(t *testing.T) {
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m, err := memory.New(memory.Config{Completer: mock})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	release := make(chan struct{})
	_, err = m.Subscribe(events.HandlerFunc(func(ctx context.Context, _ graph.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}), graph.NodeAdded)
	require.NoError(t, err)

	_, err = m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Stop(short), context.DeadlineExceeded)
	assert.False(t, m.Started())
	close(release)
}

// sequence answers every call with one new entity.
type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) Complete(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf(`{"entities": [{"name": "e%d", "entity_type": "concept"}], "relations": []}`, s.n), nil
}

func TestStop_ConcurrentWithProcess(t *testing.T) {
	m, err := memory.New(memory.Config{Completer: &sequence{}})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	var mu sync.Mutex
	delivered := 0
	_, err = m.Subscribe(events.HandlerFunc(func(context.Context, graph.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}), graph.NodeAdded)
	require.NoError(t, err)

	processed := 0
	for range 100 {
		require.NoError(t, m.Start(ctx))

		var wg sync.WaitGroup
		var perr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, perr = m.Process(ctx, "something new")
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Stop(ctx))
		}()
		wg.Wait()

		if perr == nil {
			processed++
		} else {
			require.ErrorIs(t, perr, memory.ErrNotStarted)
		}
	}

	// Every ingest that completed emitted one event, and Stop drained it.
	require.NoError(t, m.Stop(ctx))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, processed, delivered)
	assert.Equal(t, processed, m.Stats().NodeCount)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)
	m, err := memory.New(memory.Config{Completer: mock, Registerer: reg})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	_, err = m.Process(ctx, "My wife Lena loves sushi")
	require.NoError(t, err)

	expected := `
# HELP neuroweave_graph_edges Edges in the graph.
# TYPE neuroweave_graph_edges gauge
neuroweave_graph_edges 2
# HELP neuroweave_graph_nodes Nodes in the graph.
# TYPE neuroweave_graph_nodes gauge
neuroweave_graph_nodes 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"neuroweave_graph_nodes", "neuroweave_graph_edges"))
}
