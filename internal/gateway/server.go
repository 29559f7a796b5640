// Package gateway implements the HTTP/REST and WebSocket front end:
// connection termination, per-session queueing (delegated to the agent
// loop), presence/typing broadcast, and live tool-call streaming to
// connected clients.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentgate/internal/agentloop"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/heartbeat"
	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/internal/scheduler"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/internal/toolregistry"
)

// Deps are the capabilities the gateway mediates between clients and. Each
// is owned and constructed elsewhere; the gateway holds only the
// references it calls through.
type Deps struct {
	Loop      *agentloop.Loop
	Sessions  *sessionmgr.Manager
	Registry  *toolregistry.Registry
	Pool      *providerpool.Pool
	Config    *config.Manager
	Scheduler *scheduler.Scheduler
	Heartbeat *heartbeat.Runner
	Logger    *slog.Logger
	Version   string
}

// Server is the Gateway Router: HTTP routes, slash commands, and the
// WebSocket control plane.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	startTime time.Time

	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader
	metrics    *gatewayMetrics
	rateLimit  *sessionRateLimiter
	rateStop   chan struct{}

	presence *presenceManager

	hubMu sync.Mutex
	hub   map[string][]*wsClient

	prefsMu sync.Mutex
	prefs   map[string]*sessionPrefs

	eventsMu sync.Mutex
	events   []statusEvent
}

// statusEvent is a trimmed audit record surfaced only by /api/status's
// counters, per SPEC_FULL.md's "Event timeline" supplement.
type statusEvent struct {
	At   time.Time
	Kind string
}

const maxStatusEvents = 200

// New builds a Server over deps. Call Start to begin serving.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:      deps,
		logger:    deps.Logger,
		startTime: time.Now(),
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hub:      make(map[string][]*wsClient),
		prefs:    make(map[string]*sessionPrefs),
		metrics:  newGatewayMetrics(),
		rateStop: make(chan struct{}),
	}
	perMinute, burst := 60, 10
	if deps.Config != nil {
		gw := deps.Config.Get().Gateway
		perMinute, burst = gw.RateLimitPerMinute, gw.RateLimitBurst
	}
	s.rateLimit = newSessionRateLimiter(perMinute, burst)
	go s.rateLimit.evictIdle(s.rateStop)
	s.presence = newPresenceManager(s.broadcast)
	if deps.Loop != nil {
		deps.Loop.SetPresenceHook(s.presence.setBusy)
	}
	if deps.Config != nil {
		deps.Config.Subscribe(func(*config.Config) {
			s.broadcast("", wsEvent{Type: "data_update", Resource: "config"})
		})
	}
	s.registerRoutes()
	return s
}

func (s *Server) recordEvent(kind string) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, statusEvent{At: time.Now(), Kind: kind})
	if len(s.events) > maxStatusEvents {
		s.events = s.events[len(s.events)-maxStatusEvents:]
	}
}

// Start binds addr and serves HTTP/WS until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("gateway starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown saves all sessions, drains the presence manager, and closes
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gateway shutting down")
	close(s.rateStop)

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.SaveAll(); err != nil {
			s.logger.Warn("save all sessions failed", "error", err)
		}
	}
	s.presence.drain()

	s.hubMu.Lock()
	for _, clients := range s.hub {
		for _, c := range clients {
			c.conn.Close()
		}
	}
	s.hub = make(map[string][]*wsClient)
	s.hubMu.Unlock()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
