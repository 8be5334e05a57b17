package memory

import (
	"math"

	"github.com/haivivi/neuroweave/pkg/extract"
	"github.com/haivivi/neuroweave/pkg/ingest"
	"github.com/haivivi/neuroweave/pkg/planner"
	"github.com/haivivi/neuroweave/pkg/query"
)

// ProcessResult describes what one message added to the graph.
type ProcessResult struct {
	// Extraction is the raw extraction output.
	Extraction extract.Result `json:"-" msgpack:"-"`

	EntitiesExtracted  int     `json:"entities_extracted" msgpack:"entities_extracted"`
	RelationsExtracted int     `json:"relations_extracted" msgpack:"relations_extracted"`
	NodesAdded         int     `json:"nodes_added" msgpack:"nodes_added"`
	EdgesAdded         int     `json:"edges_added" msgpack:"edges_added"`
	EdgesSkipped       int     `json:"edges_skipped" msgpack:"edges_skipped"`
	ExtractionMS       float64 `json:"extraction_ms" msgpack:"extraction_ms"`
}

func newProcessResult(ex extract.Result, st ingest.Stats) *ProcessResult {
	ms := float64(ex.Duration.Microseconds()) / 1000
	return &ProcessResult{
		Extraction:         ex,
		EntitiesExtracted:  len(ex.Entities),
		RelationsExtracted: len(ex.Relations),
		NodesAdded:         st.NodesAdded,
		EdgesAdded:         st.EdgesAdded,
		EdgesSkipped:       st.EdgesSkipped,
		ExtractionMS:       math.Round(ms*10) / 10,
	}
}

// ContextResult combines processing a message with answering it.
type ContextResult struct {
	Process  ProcessResult `json:"process" msgpack:"process"`
	Relevant *query.Result `json:"relevant" msgpack:"relevant"`
	Plan     *planner.Plan `json:"plan" msgpack:"plan"`
}
