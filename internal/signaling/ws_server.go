package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/ratelimit"
)

const (
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 256
	DefaultPingInterval         = 20 * time.Second
	DefaultPongTimeout          = 60 * time.Second
)

// ServerConfig wires the WebSocket endpoint to a running Hub.
type ServerConfig struct {
	Hub     *Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Origin  origin.Policy
	// Clock paces the per-connection rate limiter. Defaults to the wall clock.
	Clock clock.Clock

	MaxMessageBytes int64
	// MaxMessagesPerSecond <= 0 disables inbound rate limiting.
	MaxMessagesPerSecond int
	SendQueueSize        int
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// Server upgrades HTTP requests to signaling connections.
//
// Endpoints:
//   - GET /ws : WebSocket signaling
//   - GET /   : alias of /ws for clients that connect to the bare host
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}

	s := &Server{cfg: cfg}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	normalized, ok := s.cfg.Origin.Check(r)
	if !ok {
		s.cfg.Metrics.Inc(metrics.OriginRejected)
		s.cfg.Logger.Warn("rejected websocket origin", "origin", r.Header.Get("Origin"), "normalized", normalized, "remote_addr", r.RemoteAddr)
	}
	return ok
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hub == nil {
		http.Error(w, "signaling hub not configured", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.cfg.Metrics.Inc(metrics.UpgradeFailures)
		return
	}

	logger := s.cfg.Logger.With("remote_addr", r.RemoteAddr)
	conn := newWSConn(ws, wsConnConfig{
		MaxMessageBytes: s.cfg.MaxMessageBytes,
		SendQueueSize:   s.cfg.SendQueueSize,
		PingInterval:    s.cfg.PingInterval,
		PongTimeout:     s.cfg.PongTimeout,
		Limiter:         ratelimit.NewFrameLimiter(s.cfg.Clock, s.cfg.MaxMessagesPerSecond),
		Metrics:         s.cfg.Metrics,
		Logger:          logger,
	})

	if err := s.cfg.Hub.Accept(conn); err != nil {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	go conn.writePump()
	conn.readPump(s.cfg.Hub)
}
