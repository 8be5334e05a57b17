package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/graph"
)

// Frame encodings selected with the encoding query parameter.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Message is one frame sent to a live-view client.
type Message struct {
	Type  string       `json:"type" msgpack:"type"`
	Data  any          `json:"data" msgpack:"data"`
	// Stats are the graph counts as of the event, not as of sending.
	Stats *graph.Stats `json:"stats,omitempty" msgpack:"stats,omitempty"`
}

type frame struct {
	kind int
	data []byte
}

func encode(m Message, encoding string) (frame, error) {
	if encoding == EncodingMsgpack {
		data, err := msgpack.Marshal(m)
		return frame{websocket.BinaryMessage, data}, err
	}
	data, err := json.Marshal(m)
	return frame{websocket.TextMessage, data}, err
}

type client struct {
	conn     *websocket.Conn
	encoding string
	send     chan frame
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// hub fans graph events out to websocket clients. Each client has one
// writer goroutine; a client whose buffer is full is dropped.
type hub struct {
	src GraphSource
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub(src GraphSource, log *zap.Logger) *hub {
	return &hub{src: src, log: log, clients: make(map[*client]struct{})}
}

// HandleEvent implements events.Handler.
func (h *hub) HandleEvent(_ context.Context, ev graph.Event) error {
	h.broadcast(ev)
	return nil
}

func (h *hub) broadcast(ev graph.Event) {
	stats := ev.Stats
	if stats == (graph.Stats{}) {
		stats = h.src.Stats()
	}
	msg := Message{Type: string(ev.Kind), Data: ev.Data, Stats: &stats}

	h.mu.RLock()
	defer h.mu.RUnlock()

	encoded := make(map[string]frame, 2)
	for c := range h.clients {
		f, ok := encoded[c.encoding]
		if !ok {
			var err error
			if f, err = encode(msg, c.encoding); err != nil {
				h.log.Error("ws.encode_failed", zap.String("encoding", c.encoding), zap.Error(err))
				continue
			}
			encoded[c.encoding] = f
		}
		select {
		case c.send <- f:
		default:
			h.log.Warn("ws.client_slow", zap.String("remote", c.conn.RemoteAddr().String()))
			go h.remove(c)
		}
	}
}

// add registers c after queueing the snapshot, so the snapshot is always
// the first frame a client sees.
func (h *hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := encode(Message{Type: "snapshot", Data: h.src.Snapshot()}, c.encoding)
	if err != nil {
		return err
	}
	c.send <- f
	h.clients[c] = struct{}{}
	h.log.Info("ws.client_connected", zap.Int("total", len(h.clients)))
	return nil
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.log.Info("ws.client_disconnected", zap.Int("total", total))
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// writeLoop owns all writes to c.conn. It exits when c.send is closed or a
// write fails.
func (h *hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client frames until the connection fails.
func (h *hub) readLoop(c *client) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	}
}
