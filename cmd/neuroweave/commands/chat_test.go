package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/cli"
	"github.com/haivivi/neuroweave/pkg/config"
	"github.com/haivivi/neuroweave/pkg/llm"
	"github.com/haivivi/neuroweave/pkg/logging"
	"github.com/haivivi/neuroweave/pkg/memory"
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

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	mock := llm.NewMock()
	mock.SetRaw("lena", lenaExtraction)

	mem, err := memory.New(memory.Config{Settings: config.Default(), Completer: mock})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := mem.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e := &engine{settings: config.Default(), log: zap.NewNop(), mem: mem}
	t.Cleanup(e.close)
	return e
}

func newTestChat(e *engine, out *bytes.Buffer) *chat {
	return &chat{
		e:      e,
		tail:   logging.NewTail(10),
		styles: cli.NewStyles(cli.DefaultTheme),
		out:    out,
	}
}

func TestEngineSeed(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("# notes\nMy wife Lena loves sushi\n\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := e.seed(context.Background(), path); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := e.mem.Stats()
	if st.NodeCount != 3 || st.EdgeCount != 2 {
		t.Fatalf("stats = %+v, want 3 nodes 2 edges", st)
	}
}

func TestEngineSeedMissingFile(t *testing.T) {
	e := newTestEngine(t)
	err := e.seed(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil || !strings.HasPrefix(err.Error(), "seed: ") {
		t.Fatalf("seed error = %v", err)
	}
}

func TestChatGraph(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.mem.Process(context.Background(), "My wife Lena loves sushi"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var out bytes.Buffer
	c := newTestChat(e, &out)
	if err := c.run(context.Background(), strings.NewReader("/graph\n/stats\n")); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Lena", "sushi", "likes", "3 nodes · 2 edges", "nodes   3"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestChatQuit(t *testing.T) {
	e := newTestEngine(t)
	var out bytes.Buffer
	c := newTestChat(e, &out)

	for _, line := range []string{"/quit", "/exit"} {
		if !c.handle(context.Background(), line) {
			t.Errorf("handle(%q) should end the session", line)
		}
	}
	for _, line := range []string{"/help", "/logs", "/nope", "/ask"} {
		if c.handle(context.Background(), line) {
			t.Errorf("handle(%q) should not end the session", line)
		}
	}
	if e.mem.Stats().NodeCount != 0 {
		t.Error("commands should not touch the graph")
	}
}
