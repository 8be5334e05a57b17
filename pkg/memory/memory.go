// Package memory is the neuroweave entry point for applications.
//
// A [Memory] owns one knowledge graph and wires the components around it:
//
//   - an extraction pipeline that turns messages into entities and relations
//   - an ingestion bridge that merges them into the graph
//   - an event bus that fans graph mutations out to subscribers
//   - a query planner that answers natural-language questions
//
// Typical use:
//
//	m, err := memory.New(memory.Config{Settings: cfg, Logger: log})
//	if err != nil { ... }
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Stop(ctx)
//
//	res, err := m.Context(ctx, "My wife Lena loves sushi")
//
// # Concurrency
//
// The graph store itself is single-writer. Memory serializes access with a
// read-write lock: ingestion takes the write lock, queries and snapshots take
// the read lock. Completion calls run without holding the lock, so a slow
// model never blocks readers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/config"
	"github.com/haivivi/neuroweave/pkg/events"
	"github.com/haivivi/neuroweave/pkg/extract"
	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/ingest"
	"github.com/haivivi/neuroweave/pkg/llm"
	"github.com/haivivi/neuroweave/pkg/metrics"
	"github.com/haivivi/neuroweave/pkg/planner"
	"github.com/haivivi/neuroweave/pkg/query"
)

// ErrNotStarted is returned by operations called before Start or after Stop.
var ErrNotStarted = errors.New("memory: not started")

// Config configures a Memory.
type Config struct {
	// Settings is the loaded configuration. Nil means config.Default().
	Settings *config.Config

	// Completer overrides the provider selected by Settings.LLM.
	Completer llm.Completer

	// Registerer receives the bus, graph and pipeline metrics. Optional.
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

// Memory is a knowledge graph together with its extraction, ingestion,
// eventing and query components.
type Memory struct {
	settings   *config.Config
	completer  llm.Completer
	registerer prometheus.Registerer
	log        *zap.Logger

	// life serializes Start and Stop. started is written under both life
	// and mu, so a writer holding mu sees a consistent value.
	life    sync.Mutex
	started atomic.Bool

	// mu guards store.
	mu       sync.RWMutex
	store    *graph.Store
	bus      *events.Bus
	pipeline *extract.Pipeline
	bridge   *ingest.Bridge
	planner  *planner.Planner
	metrics  *metrics.Pipeline
}

// New validates cfg and returns a Memory that is not yet started.
func New(cfg Config) (*Memory, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		settings:   settings,
		completer:  cfg.Completer,
		registerer: cfg.Registerer,
		log:        log,
	}, nil
}

// Start builds the components on first use and marks m started. Calling
// Start on a started Memory is a no-op. A Memory restarted after Stop keeps
// its graph.
func (m *Memory) Start(ctx context.Context) error {
	m.life.Lock()
	defer m.life.Unlock()
	if m.started.Load() {
		return nil
	}
	if m.store == nil {
		if err := m.build(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.started.Store(true)
	m.mu.Unlock()
	m.log.Info("neuroweave.started",
		zap.String("llm_provider", m.settings.LLM.Provider),
		zap.String("ingest_policy", m.settings.Ingest.Policy),
	)
	return nil
}

func (m *Memory) build(ctx context.Context) error {
	s := m.settings

	c := m.completer
	if c == nil {
		var err error
		c, err = llm.New(ctx, llm.Config{
			Provider:  s.LLM.Provider,
			Model:     s.LLM.Model,
			APIKey:    s.LLM.APIKey,
			BaseURL:   s.LLM.BaseURL,
			MaxTokens: s.LLM.MaxTokens,
			Timeout:   s.LLM.Timeout,
			Breaker:   s.LLM.Breaker,
			Logger:    m.log.Named("llm"),
		})
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}
	}

	policy, err := ingest.ParsePolicy(s.Ingest.Policy)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}

	store := graph.NewStore(m.log.Named("graph"))
	bus := events.NewBus(events.BusConfig{
		HandlerTimeout: s.Events.HandlerTimeout,
		MaxInFlight:    s.Events.MaxInFlight,
		Logger:         m.log.Named("events"),
	})
	store.AttachBus(bus)

	if m.registerer != nil {
		if err := metrics.RegisterBus(m.registerer, bus); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		if err := metrics.RegisterGraph(m.registerer, m.Stats); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		if m.metrics, err = metrics.NewPipeline(m.registerer); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.completer = c
	m.store = store
	m.bus = bus
	m.pipeline = extract.NewPipeline(c, extract.Config{
		MinConfidence: s.Extraction.ConfidenceThreshold,
		Logger:        m.log.Named("extract"),
	})
	m.bridge = ingest.NewBridge(store, ingest.Config{
		Policy: policy,
		Logger: m.log.Named("ingest"),
	})
	m.planner = planner.New(c, store, planner.Config{
		Lock:   m.mu.RLocker(),
		Logger: m.log.Named("planner"),
	})
	return nil
}

// Stop marks m stopped and waits for in-flight event handlers, bounded by
// ctx. A Process already ingesting finishes first; one that has not yet
// reached ingestion returns ErrNotStarted. Calling Stop on a stopped Memory
// is a no-op.
func (m *Memory) Stop(ctx context.Context) error {
	m.life.Lock()
	defer m.life.Unlock()
	if !m.started.Load() {
		return nil
	}
	m.mu.Lock()
	m.started.Store(false)
	m.mu.Unlock()

	err := m.bus.WaitContext(ctx)
	m.log.Info("neuroweave.stopped")
	if err != nil {
		return fmt.Errorf("memory: stop: %w", err)
	}
	return nil
}

// Started reports whether m is started.
func (m *Memory) Started() bool { return m.started.Load() }

func (m *Memory) ensureStarted() error {
	if !m.Started() {
		return ErrNotStarted
	}
	return nil
}

// Settings returns the configuration m was created with.
func (m *Memory) Settings() *config.Config { return m.settings }

// ---------------------------------------------------------------------------
// Write path
// ---------------------------------------------------------------------------

// Process extracts knowledge from message and merges it into the graph.
// Extraction failures yield an empty result, not an error. Process returns
// ctx's error if ctx ends before ingestion.
func (m *Memory) Process(ctx context.Context, message string) (*ProcessResult, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}

	var ex extract.Result
	if m.settings.Extraction.Enabled {
		ex = m.pipeline.Extract(ctx, message)
		m.metrics.ObserveExtraction(ex.Duration, ex.Empty())
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: process: %w", err)
	}

	m.mu.Lock()
	if !m.started.Load() {
		m.mu.Unlock()
		return nil, ErrNotStarted
	}
	st := m.bridge.Ingest(ex)
	m.mu.Unlock()
	m.metrics.ObserveIngest(st.NodesAdded, st.EdgesAdded, st.EdgesSkipped)

	return newProcessResult(ex, st), nil
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

// Query runs a structured subgraph query.
func (m *Memory) Query(p query.Params) (*query.Result, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return query.Subgraph(m.store, p), nil
}

// Ask plans question with the model and executes the plan. An unanswerable
// question yields the broad fallback plan, not an error.
func (m *Memory) Ask(ctx context.Context, question string) (*query.Result, planner.Plan, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, planner.Plan{}, err
	}
	plan := m.planner.Plan(ctx, question)
	m.metrics.ObservePlan(plan.Duration, plan.Reasoning == planner.FallbackReasoning)
	if err := ctx.Err(); err != nil {
		return nil, plan, fmt.Errorf("memory: ask: %w", err)
	}
	return m.planner.Execute(plan), plan, nil
}

// Context processes message and then answers it as a question against the
// updated graph.
func (m *Memory) Context(ctx context.Context, message string) (*ContextResult, error) {
	proc, err := m.Process(ctx, message)
	if err != nil {
		return nil, err
	}
	relevant, plan, err := m.Ask(ctx, message)
	if err != nil {
		return nil, err
	}
	return &ContextResult{Process: *proc, Relevant: relevant, Plan: &plan}, nil
}

// Snapshot returns the full graph.
func (m *Memory) Snapshot() graph.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return graph.NewStore(nil).Snapshot()
	}
	return m.store.Snapshot()
}

// Stats returns node and edge counts.
func (m *Memory) Stats() graph.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return graph.Stats{}
	}
	return m.store.Stats()
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Subscribe registers h for graph events of the given kinds (all kinds when
// none are given).
func (m *Memory) Subscribe(h events.Handler, kinds ...graph.EventKind) (*events.Subscription, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	return m.bus.Subscribe(h, kinds, ""), nil
}

// Unsubscribe removes h. It is a no-op before Start.
func (m *Memory) Unsubscribe(h events.Handler) {
	if m.bus != nil {
		m.bus.Unsubscribe(h)
	}
}

// Graph returns the underlying store. Callers must not use it concurrently
// with m's own operations.
func (m *Memory) Graph() (*graph.Store, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	return m.store, nil
}

// Bus returns the event bus.
func (m *Memory) Bus() (*events.Bus, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	return m.bus, nil
}
