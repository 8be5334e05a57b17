// Package extract turns a conversational message into candidate entities and
// relations by prompting a text-completion model.
//
// Extraction never fails: a completion error or an unparseable response
// yields an empty [Result], which ingestion treats as a no-op.
package extract

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/jsonfix"
	"github.com/haivivi/neuroweave/pkg/llm"
)

// DefaultConfidence is assigned to relations that omit a confidence.
const DefaultConfidence = 0.5

// Entity is an extracted entity. EntityType is the model's free-form type
// (person, organization, tool, place, concept, preference).
type Entity struct {
	Name       string         `json:"name" jsonschema:"entity name as written in the message"`
	EntityType string         `json:"entity_type" jsonschema:"one of person, organization, tool, place, concept, preference"`
	Properties map[string]any `json:"properties,omitempty" jsonschema:"extra attributes"`
}

// Relation is an extracted fact linking two entities by name.
type Relation struct {
	Source     string         `json:"source" jsonschema:"source entity name"`
	Target     string         `json:"target" jsonschema:"target entity name"`
	Relation   string         `json:"relation" jsonschema:"snake_case relation label"`
	Confidence float64        `json:"confidence" jsonschema:"certainty between 0.0 and 1.0"`
	Properties map[string]any `json:"properties,omitempty" jsonschema:"extra attributes such as timeframe"`
}

// Result is the output of one extraction.
type Result struct {
	Entities    []Entity      `json:"entities"`
	Relations   []Relation    `json:"relations"`
	RawResponse string        `json:"raw_response,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Empty reports whether nothing was extracted.
func (r Result) Empty() bool { return len(r.Entities) == 0 && len(r.Relations) == 0 }

// Config configures a Pipeline.
type Config struct {
	// MinConfidence drops relations below this confidence. Zero keeps all.
	MinConfidence float64

	Logger *zap.Logger
}

// Pipeline extracts entities and relations with a single completion call.
type Pipeline struct {
	llm llm.Completer
	cfg Config
	log *zap.Logger
}

// NewPipeline creates a Pipeline backed by c.
func NewPipeline(c llm.Completer, cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{llm: c, cfg: cfg, log: log}
}

// Extract runs extraction on message.
func (p *Pipeline) Extract(ctx context.Context, message string) Result {
	p.log.Info("extraction.start", zap.Int("message_length", len(message)))
	start := time.Now()

	raw, err := p.llm.Complete(ctx, SystemPrompt(), message)
	if err != nil {
		p.log.Error("extraction.llm_error", zap.Error(err))
		return Result{Duration: time.Since(start)}
	}

	parsed, ok := jsonfix.RepairLenientObject(raw)
	if !ok {
		p.log.Warn("extraction.parse_failed", zap.String("raw_response", truncate(raw, 200)))
		return Result{RawResponse: raw, Duration: time.Since(start)}
	}

	res := Result{
		Entities:    parseEntities(parsed["entities"]),
		Relations:   parseRelations(parsed["relations"], p.cfg.MinConfidence),
		RawResponse: raw,
		Duration:    time.Since(start),
	}
	p.log.Info("extraction.complete",
		zap.Int("entity_count", len(res.Entities)),
		zap.Int("relation_count", len(res.Relations)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func parseEntities(v any) []Entity {
	items, _ := v.([]any)
	var out []Entity
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		typ, ok := m["entity_type"].(string)
		if !ok {
			typ = "concept"
		}
		out = append(out, Entity{
			Name:       name,
			EntityType: typ,
			Properties: props(m["properties"], "name", "entity_type"),
		})
	}
	return out
}

func parseRelations(v any, minConfidence float64) []Relation {
	items, _ := v.([]any)
	var out []Relation
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		src, ok1 := m["source"].(string)
		dst, ok2 := m["target"].(string)
		rel, ok3 := m["relation"].(string)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		conf := DefaultConfidence
		if raw, present := m["confidence"]; present {
			f, ok := jsonfix.NumberOrString(raw)
			if !ok {
				continue
			}
			conf = f
		}
		conf = jsonfix.Clamp(conf, 0, 1)
		if conf < minConfidence {
			continue
		}
		out = append(out, Relation{
			Source:     src,
			Target:     dst,
			Relation:   rel,
			Confidence: conf,
			Properties: props(m["properties"], "source", "target", "relation", "confidence"),
		})
	}
	return out
}

// props copies a properties object, dropping keys that shadow top-level
// fields. Non-objects yield an empty map.
func props(v any, reserved ...string) map[string]any {
	out := map[string]any{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if !slices.Contains(reserved, k) {
			out[k] = val
		}
	}
	return out
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

const promptHead = `You are a knowledge extraction engine. Your task is to extract entities and relationships from a user's conversational message.

Extract ONLY observable facts from the message. Do not infer information that is not clearly stated or strongly implied.

RULES:
- The user speaking is always referred to as "User" in your output.
- Extract people, organizations, tools, technologies, places, and concepts.
- Extract relationships between entities with a confidence score (0.0 to 1.0).
- Every entity name used as a relation source or target MUST also appear in the entities array.
- Explicit statements ("My name is Alex") and stated preferences ("I love Python") get high confidence (0.85-0.95).
- Hedged statements ("I might try Rust") get lower confidence (0.40-0.60).
- Negations ("I don't like Java") become a negative relation such as dislikes, with high confidence.
- If the message has no extractable facts ("Thanks!", "OK"), return empty entities and relations arrays.

Respond with ONLY valid JSON, no other text. The response must match this JSON Schema:

`

const promptExample = `

Example:
{
  "entities": [
    {"name": "User", "entity_type": "person", "properties": {}},
    {"name": "Lena", "entity_type": "person", "properties": {}}
  ],
  "relations": [
    {"source": "User", "target": "Lena", "relation": "married_to", "confidence": 0.9, "properties": {}}
  ]
}
`

type response struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

var systemPrompt = sync.OnceValue(func() string {
	var sb strings.Builder
	sb.WriteString(promptHead)
	if s, err := jsonschema.For[response](nil); err == nil {
		if data, err := json.MarshalIndent(s, "", "  "); err == nil {
			sb.Write(data)
		}
	}
	sb.WriteString(promptExample)
	return sb.String()
})

// SystemPrompt returns the extraction instructions sent with every message.
func SystemPrompt() string { return systemPrompt() }
