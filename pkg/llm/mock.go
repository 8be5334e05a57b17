package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// DefaultMockResponse is returned when no registered pattern matches.
const DefaultMockResponse = `{"entities": [], "relations": []}`

// Mock is a deterministic Completer for tests and offline use. Responses are
// registered against case-insensitive substrings of the user message; the
// first registered match wins.
//
// Mock is safe for concurrent use.
type Mock struct {
	mu       sync.Mutex
	patterns []mockResponse
	err      error

	calls      int
	lastSystem string
	lastUser   string
}

type mockResponse struct {
	substr string
	text   string
}

var _ Completer = (*Mock)(nil)

// NewMock returns an empty Mock.
func NewMock() *Mock { return &Mock{} }

// SetResponse registers v, encoded as JSON, for messages containing substr.
func (m *Mock) SetResponse(substr string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.SetRaw(substr, string(data))
	return nil
}

// SetRaw registers text verbatim for messages containing substr.
func (m *Mock) SetRaw(substr, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, mockResponse{substr: strings.ToLower(substr), text: text})
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Complete implements Completer.
func (m *Mock) Complete(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastSystem = system
	m.lastUser = user

	if err := ctx.Err(); err != nil {
		return "", wrap(ProviderMock, err)
	}
	if m.err != nil {
		return "", wrap(ProviderMock, m.err)
	}

	msg := strings.ToLower(user)
	for _, p := range m.patterns {
		if strings.Contains(msg, p.substr) {
			return p.text, nil
		}
	}
	return DefaultMockResponse, nil
}

// CallCount returns the number of Complete calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastSystemPrompt returns the system prompt of the most recent call.
func (m *Mock) LastSystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSystem
}

// LastUserMessage returns the user message of the most recent call.
func (m *Mock) LastUserMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUser
}
