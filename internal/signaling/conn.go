package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/ratelimit"
)

var (
	// ErrSendQueueFull means the peer is not draining its socket fast enough.
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// Conn is the hub's handle on one peer connection.
type Conn interface {
	// Send queues one frame without blocking.
	Send(frame []byte) error
	// Close sends a close frame with code and reason, then closes.
	Close(code int, reason string)
	// Terminate drops the connection without a close handshake.
	Terminate()
	Open() bool
	RemoteAddr() string
}

const wsWriteWait = 1 * time.Second

type wsConnConfig struct {
	MaxMessageBytes int64
	SendQueueSize   int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	Limiter         *ratelimit.FrameLimiter
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// wsConn adapts a gorilla/websocket connection to Conn. One goroutine runs
// readPump and one runs writePump; every socket write other than control
// frames happens on the write pump.
type wsConn struct {
	ws  *websocket.Conn
	cfg wsConnConfig

	send chan []byte
	done chan struct{}

	open      atomic.Bool
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, cfg wsConnConfig) *wsConn {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &wsConn{
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendQueueSize),
		done: make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

func (c *wsConn) Send(frame []byte) error {
	if !c.open.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close(code int, reason string) {
	c.shutdown(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	})
}

func (c *wsConn) Terminate() {
	c.shutdown(nil)
}

func (c *wsConn) Open() bool {
	return c.open.Load()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *wsConn) shutdown(beforeClose func()) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		if beforeClose != nil {
			beforeClose()
		}
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump forwards inbound frames to the hub until the socket fails, then
// reports the disconnect. It runs on the HTTP handler goroutine.
func (c *wsConn) readPump(h *Hub) {
	defer func() {
		c.Terminate()
		h.Disconnected(c)
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	// Pongs keep the socket alive but are not peer activity; lastSeen only
	// moves on data frames.
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				c.cfg.Logger.Debug("websocket keepalive timeout")
				c.Close(websocket.CloseNormalClosure, "keepalive timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				c.cfg.Logger.Warn("websocket frame too large", "limit", c.cfg.MaxMessageBytes)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.cfg.Logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		// Check the budget after reading so the frame is consumed and the peer
		// reliably sees the close frame instead of a reset.
		if !c.cfg.Limiter.Allow() {
			c.cfg.Metrics.Inc(metrics.FramesRateLimited)
			c.cfg.Logger.Warn("signaling rate limit exceeded")
			c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if err := h.Deliver(c, data); err != nil {
			c.Close(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Terminate()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.cfg.Logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
