// Package server serves the live graph visualizer: a JSON API over the
// current graph and a websocket stream of graph events.
//
// Routes:
//
//	GET /             visualizer page
//	GET /api/graph    full snapshot
//	GET /api/health   status, counts and connected clients
//	GET /metrics      Prometheus metrics, when a registry is configured
//	GET /ws/graph     websocket: snapshot on connect, then one frame per event
//
// The server never mutates the graph.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/events"
	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/metrics"
)

// BroadcasterLabel labels the server's bus subscription.
const BroadcasterLabel = "ws_broadcaster"

// LegacyQueueSize is the capacity of the channel made by NewLegacyQueue.
const LegacyQueueSize = 1000

//go:embed static/index.html
var indexHTML []byte

// GraphSource is the read side of a graph. It must be safe for concurrent
// use.
type GraphSource interface {
	Snapshot() graph.Snapshot
	Stats() graph.Stats
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string

	// Bus delivers graph events. When nil, events are read from Queue.
	Bus *events.Bus

	// Queue is the legacy event source used when Bus is nil.
	Queue <-chan graph.Event

	// Registry, when set, is served on /metrics and receives the client
	// gauge.
	Registry *prometheus.Registry

	// AllowedOrigins for CORS and websocket upgrades. Empty allows any.
	AllowedOrigins []string

	Logger *zap.Logger
}

// NewLegacyQueue attaches a bounded event channel to s and returns its
// receive side, for use as Config.Queue. The store drops events when the
// channel is full.
func NewLegacyQueue(s *graph.Store) <-chan graph.Event {
	q := make(chan graph.Event, LegacyQueueSize)
	s.AttachQueue(q)
	return q
}

// Server is the visualizer HTTP server.
type Server struct {
	cfg      Config
	src      GraphSource
	hub      *hub
	upgrader websocket.Upgrader
	router   http.Handler
	log      *zap.Logger

	mu       sync.Mutex
	http     *http.Server
	addr     net.Addr
	sub      *events.Subscription
	stopPump context.CancelFunc
	pumpDone chan struct{}
}

// New creates a Server reading src.
func New(src GraphSource, cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg: cfg,
		src: src,
		hub: newHub(src, log),
		log: log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.Registry != nil {
		if err := metrics.RegisterClients(cfg.Registry, s.hub.count); err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", s.handleGraph)
		r.Get("/health", s.handleHealth)
	})
	r.Get("/ws/graph", s.handleWebSocket)
	if s.cfg.Registry != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Registry))
	}
	return r
}

// Handler returns the HTTP handler. Websocket clients connected through it
// receive events only while the server is started.
func (s *Server) Handler() http.Handler { return s.router }

// Start subscribes to graph events and begins serving on Config.Addr. It
// returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server: already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}

	mode := "static"
	if s.cfg.Bus != nil {
		mode = "event_bus"
		s.sub = s.cfg.Bus.Subscribe(s.hub, []graph.EventKind{
			graph.NodeAdded, graph.EdgeAdded, graph.NodeUpdated, graph.EdgeUpdated,
		}, BroadcasterLabel)
	} else if s.cfg.Queue != nil {
		mode = "legacy_queue"
		pumpCtx, cancel := context.WithCancel(context.Background())
		s.stopPump = cancel
		s.pumpDone = make(chan struct{})
		go s.pump(pumpCtx, s.cfg.Queue, s.pumpDone)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr()
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server.serve_failed", zap.Error(err))
		}
	}()

	s.log.Info("server.started", zap.String("mode", mode), zap.String("addr", s.addr.String()))
	return nil
}

func (s *Server) pump(ctx context.Context, q <-chan graph.Event, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q:
			if !ok {
				return
			}
			s.hub.broadcast(ev)
		}
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int { return s.hub.count() }

// Shutdown unsubscribes from graph events, closes websocket clients and
// stops the HTTP server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}

	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	if s.stopPump != nil {
		s.stopPump()
		<-s.pumpDone
		s.stopPump = nil
	}
	s.hub.closeAll()

	err := s.http.Shutdown(ctx)
	s.http = nil
	s.addr = nil
	s.log.Info("server.stopped")
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

// Health is the /api/health response body.
type Health struct {
	Status           string      `json:"status"`
	Graph            graph.Stats `json:"graph"`
	WebsocketClients int         `json:"websocket_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:           "ok",
		Graph:            s.src.Stats(),
		WebsocketClients: s.hub.count(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	switch encoding {
	case "", EncodingJSON:
		encoding = EncodingJSON
	case EncodingMsgpack:
	default:
		http.Error(w, fmt.Sprintf("unknown encoding %q", encoding), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws.upgrade_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, encoding: encoding, send: make(chan frame, sendBuffer)}
	if err := s.hub.add(c); err != nil {
		s.log.Error("ws.snapshot_failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	go s.hub.writeLoop(c)
	go s.hub.readLoop(c)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http.request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
