// Package logging builds the zap loggers used across neuroweave.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/haivivi/neuroweave/pkg/config"
)

// ParseLevel maps a configured level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
}

// New builds a logger writing to stderr.
func New(cfg config.Log) (*zap.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to w. The console format uses the
// development encoder; json uses the production encoder.
func NewWithWriter(cfg config.Log, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		if f, ok := w.(*os.File); ok && isTerminal(f) {
			ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(ec)
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// ---------------------------------------------------------------------------
// Tail
// ---------------------------------------------------------------------------

// Tail is an io.Writer that keeps the last N lines written to it. The chat
// command routes logs here so they do not interleave with the conversation.
type Tail struct {
	mu    sync.Mutex
	lines []string
	head  int
	full  bool
}

// NewTail creates a Tail holding up to n lines.
func NewTail(n int) *Tail {
	if n < 1 {
		n = 1
	}
	return &Tail{lines: make([]string, n)}
}

// Write implements io.Writer. Input is split on newlines.
func (t *Tail) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		t.lines[t.head] = line
		t.head++
		if t.head == len(t.lines) {
			t.head = 0
			t.full = true
		}
	}
	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.head]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.head:]...)
	return append(out, t.lines[:t.head]...)
}
