// Package planner translates natural-language questions into structured
// subgraph queries.
//
// A [Planner] describes the current graph schema to a text-completion model,
// parses the model's JSON answer into a [Plan], and hands the plan to
// [query.Subgraph]. Any completion error or unparseable answer yields the
// broad [Fallback] plan, so planning never fails the caller.
//
// Planning only reads the store.
package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/jsonfix"
	"github.com/haivivi/neuroweave/pkg/llm"
	"github.com/haivivi/neuroweave/pkg/query"
)

const (
	// MaxHopsLimit is the largest hop count a plan may request.
	MaxHopsLimit = 10

	// FallbackHops is the hop count of the fallback plan.
	FallbackHops = 2

	// FallbackReasoning is the reasoning of the fallback plan.
	FallbackReasoning = "Fallback: could not parse LLM response, returning broad search."
)

// Plan is a structured query produced from a question.
type Plan struct {
	// Entities are seed names. Empty means whole-graph search.
	Entities []string `json:"entities"`

	// Relations is a relation allow-list. Nil means no filter.
	Relations []string `json:"relations"`

	MinConfidence float64 `json:"min_confidence"`
	MaxHops       int     `json:"max_hops"`
	Reasoning     string  `json:"reasoning"`

	// RawResponse is the untouched completion output.
	RawResponse string `json:"-"`

	// Duration is the time spent planning.
	Duration time.Duration `json:"-"`
}

// IsBroadSearch reports whether the plan has no entity filter.
func (p Plan) IsBroadSearch() bool { return len(p.Entities) == 0 }

// Params maps the plan onto query parameters.
func (p Plan) Params() query.Params {
	return query.Params{
		Entities:      p.Entities,
		Relations:     p.Relations,
		MinConfidence: p.MinConfidence,
		MaxHops:       p.MaxHops,
	}
}

// Fallback returns the whole-graph plan used when a question cannot be
// planned.
func Fallback(raw string, d time.Duration) Plan {
	return Plan{
		Entities:    []string{},
		MaxHops:     FallbackHops,
		Reasoning:   FallbackReasoning,
		RawResponse: raw,
		Duration:    d,
	}
}

// Config configures a Planner.
type Config struct {
	// Lock, when set, is held around every store read. The completion call
	// runs without it.
	Lock sync.Locker

	Logger *zap.Logger
}

// Planner plans and executes natural-language questions against a store.
type Planner struct {
	llm   llm.Completer
	store *graph.Store
	lock  sync.Locker
	log   *zap.Logger
}

// New creates a Planner reading s and prompting c.
func New(c llm.Completer, s *graph.Store, cfg Config) *Planner {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	lock := cfg.Lock
	if lock == nil {
		lock = nopLocker{}
	}
	return &Planner{llm: c, store: s, lock: lock, log: log}
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// Plan translates question into a Plan. It returns the fallback plan when
// the completion fails or its answer is not a JSON object. Cancelling ctx
// cancels the pending completion.
func (p *Planner) Plan(ctx context.Context, question string) Plan {
	p.log.Info("nl_query.plan_start", zap.String("question", truncate(question, 100)))
	start := time.Now()

	raw, err := p.llm.Complete(ctx, p.SystemPrompt(question), question)
	if err != nil {
		p.log.Error("nl_query.llm_error", zap.Error(err))
		return p.fallback("", time.Since(start))
	}

	parsed, ok := jsonfix.RepairObject(raw)
	if !ok {
		p.log.Warn("nl_query.parse_failed", zap.String("raw_response", truncate(raw, 200)))
		return p.fallback(raw, time.Since(start))
	}

	plan := parsePlan(parsed)
	plan.RawResponse = raw
	plan.Duration = time.Since(start)

	p.log.Info("nl_query.plan_complete",
		zap.Strings("entities", plan.Entities),
		zap.Strings("relations", plan.Relations),
		zap.Int("max_hops", plan.MaxHops),
		zap.Bool("is_broad", plan.IsBroadSearch()),
		zap.Duration("duration", plan.Duration),
	)
	return plan
}

func (p *Planner) fallback(raw string, d time.Duration) Plan {
	p.log.Info("nl_query.fallback")
	return Fallback(raw, d)
}

// Execute runs plan against the store.
func (p *Planner) Execute(plan Plan) *query.Result {
	p.lock.Lock()
	defer p.lock.Unlock()
	return query.Subgraph(p.store, plan.Params())
}

// Query plans question and executes the plan.
func (p *Planner) Query(ctx context.Context, question string) (*query.Result, Plan) {
	plan := p.Plan(ctx, question)
	return p.Execute(plan), plan
}

// parsePlan reads plan fields from a decoded JSON object, substituting
// defaults for anything missing or malformed.
func parsePlan(m map[string]any) Plan {
	plan := Plan{Entities: []string{}, MaxHops: 1}

	if items, ok := m["entities"].([]any); ok {
		for _, e := range items {
			if jsonfix.Truthy(e) {
				plan.Entities = append(plan.Entities, jsonfix.String(e))
			}
		}
	}

	if items, ok := m["relations"].([]any); ok {
		for _, r := range items {
			if jsonfix.Truthy(r) {
				plan.Relations = append(plan.Relations, jsonfix.String(r))
			}
		}
	}

	if v, ok := jsonfix.Number(m["min_confidence"]); ok {
		plan.MinConfidence = jsonfix.Clamp(v, 0, 1)
	}

	if raw, present := m["max_hops"]; present {
		if v, ok := jsonfix.Int(raw); ok {
			plan.MaxHops = v
		}
	}
	plan.MaxHops = jsonfix.Clamp(plan.MaxHops, 0, MaxHopsLimit)

	plan.Reasoning, _ = m["reasoning"].(string)
	return plan
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ---------------------------------------------------------------------------
// Prompt
// ---------------------------------------------------------------------------

const promptTemplate = `You are a query planner for a knowledge graph. Your task is to translate a natural language question into a structured graph query.

The knowledge graph contains these ENTITIES (nodes):
%s

The graph has these RELATION TYPES (edges):
%s

RULES:
- Identify which entities in the graph are relevant to the question.
- Identify which relation types would help answer the question.
- Choose how many hops to traverse (1 = direct connections, 2 = friends-of-friends, etc.)
- If the question mentions a person by relationship (e.g. "my wife"), resolve it to the actual entity name from the graph.
- If the question is very broad or you can't identify specific entities, return an empty entities list (this triggers a whole-graph search).
- If no specific relation types are needed, set relations to null.

Respond with ONLY valid JSON in this exact format, no other text:

{
  "entities": ["entity_name1", "entity_name2"],
  "relations": ["relation_type1", "relation_type2"],
  "min_confidence": 0.0,
  "max_hops": 1,
  "reasoning": "Brief explanation of your interpretation"
}

Examples:
- "what does my wife like?" -> {"entities": ["Lena"], "relations": ["prefers", "likes"], "max_hops": 1, "min_confidence": 0.0, "reasoning": "User's wife is Lena, looking for her preferences"}
- "where are we traveling?" -> {"entities": ["User"], "relations": ["traveling_to"], "max_hops": 1, "min_confidence": 0.0, "reasoning": "Looking for travel plans connected to the user"}
- "tell me everything about Tokyo" -> {"entities": ["Tokyo"], "relations": null, "max_hops": 2, "min_confidence": 0.0, "reasoning": "Broad query about Tokyo, get all connections"}
- "what do you know about me?" -> {"entities": ["User"], "relations": null, "max_hops": 2, "min_confidence": 0.0, "reasoning": "Broad user query, return full user context"}

QUESTION: %s
`

// SystemPrompt renders the planning instructions for question against the
// current graph schema.
func (p *Planner) SystemPrompt(question string) string {
	p.lock.Lock()
	defer p.lock.Unlock()

	var entities strings.Builder
	p.store.EachNode(func(n graph.Node) bool {
		fmt.Fprintf(&entities, "  - %s (%s)\n", n.Name, n.Type)
		return true
	})
	entityList := strings.TrimSuffix(entities.String(), "\n")
	if entityList == "" {
		entityList = "  (graph is empty)"
	}

	relationList := "  (no relations yet)"
	if labels := p.store.RelationLabels(); len(labels) > 0 {
		relationList = "  - " + strings.Join(labels, "\n  - ")
	}

	return fmt.Sprintf(promptTemplate, entityList, relationList, question)
}
