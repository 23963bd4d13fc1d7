package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/registry"
)

var ErrHubStopped = errors.New("signaling hub stopped")

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultIdleTimeout   = 90 * time.Second

	defaultEventBuffer = 256
)

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Clock drives the liveness sweep and lastSeen stamps. Defaults to the
	// wall clock.
	Clock clock.Clock

	SweepInterval time.Duration
	IdleTimeout   time.Duration

	// NewID generates provisional peer ids. Defaults to random UUIDs.
	NewID func() string

	EventBuffer int
}

// Hub owns the client registry. Every registry read or write happens on the
// goroutine started by Start, one event at a time.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	newID   func() string

	sweepInterval time.Duration
	idleTimeout   time.Duration

	reg    *registry.Registry[Conn]
	events chan event
	// dirty is set whenever the directory changed or a sweep ran; the loop
	// broadcasts once at the end of the event.
	dirty bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// postMu is held for reading while an event is queued. shutdown takes it
	// for writing to set sealed, after which nothing new enters events.
	postMu sync.RWMutex
	sealed bool
}

type event interface{ isEvent() }

type acceptEvent struct{ conn Conn }

type frameEvent struct {
	conn Conn
	data []byte
}

type closeEvent struct{ conn Conn }

type peersQuery struct{ reply chan []string }

func (acceptEvent) isEvent() {}
func (frameEvent) isEvent()  {}
func (closeEvent) isEvent()  {}
func (peersQuery) isEvent()  {}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Hub{
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		newID:         cfg.NewID,
		sweepInterval: cfg.SweepInterval,
		idleTimeout:   cfg.IdleTimeout,
		reg:           registry.New[Conn](),
		events:        make(chan event, cfg.EventBuffer),
		done:          make(chan struct{}),
	}
}

// Start launches the event loop. It returns immediately; the loop runs until
// ctx is cancelled or Stop is called. Calling Start more than once is a no-op.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)
	// Create the ticker here so a mock clock advanced right after Start is
	// observed by the loop.
	ticker := h.clock.Ticker(h.sweepInterval)
	go h.run(ctx, ticker)
}

// Stop closes every connection with "going away" and waits for the loop to
// exit.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.started = true
		// Closing done first releases posters blocked on a full queue.
		close(h.done)
		h.postMu.Lock()
		h.sealed = true
		h.postMu.Unlock()
		h.mu.Unlock()
		return
	}
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-h.done
}

// Done is closed once the event loop has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Accept hands a freshly upgraded connection to the hub, which assigns it a
// provisional id and greets it.
func (h *Hub) Accept(conn Conn) error {
	return h.post(acceptEvent{conn: conn})
}

// Deliver queues one inbound frame from conn.
func (h *Hub) Deliver(conn Conn, data []byte) error {
	return h.post(frameEvent{conn: conn, data: data})
}

// Disconnected reports that conn went away. Reporting a connection the hub
// already dropped is harmless.
func (h *Hub) Disconnected(conn Conn) {
	_ = h.post(closeEvent{conn: conn})
}

// Peers returns the ids currently in the directory, sorted.
func (h *Hub) Peers(ctx context.Context) ([]string, error) {
	q := peersQuery{reply: make(chan []string, 1)}
	if err := h.postContext(ctx, q); err != nil {
		return nil, err
	}
	select {
	case ids := <-q.reply:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubStopped
	}
}

func (h *Hub) post(ev event) error {
	return h.postContext(context.Background(), ev)
}

func (h *Hub) postContext(ctx context.Context, ev event) error {
	h.postMu.RLock()
	defer h.postMu.RUnlock()
	if h.sealed {
		return ErrHubStopped
	}
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	h.logger.Info("signaling hub started", "sweep_interval", h.sweepInterval, "idle_timeout", h.idleTimeout)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev := <-h.events:
			h.handle(ev)
		case <-ticker.C:
			h.sweep()
		}
		h.flushDirectory()
		h.metrics.SetGauge(metrics.ConnectedPeers, int64(h.reg.Len()))
	}
}

func (h *Hub) handle(ev event) {
	switch ev := ev.(type) {
	case acceptEvent:
		h.accept(ev.conn)
	case frameEvent:
		h.handleFrame(ev.conn, ev.data)
	case closeEvent:
		rec, ok := h.reg.Lookup(ev.conn)
		if !ok {
			return
		}
		h.disconnect(rec.ID, "closed by peer")
	case peersQuery:
		ev.reply <- h.reg.Snapshot()
	}
}

func (h *Hub) accept(conn Conn) {
	id := h.provisionalID()
	if _, err := h.reg.Insert(id, conn, h.clock.Now()); err != nil {
		// Only possible if the same Conn is accepted twice.
		h.logger.Error("failed to register connection", "remote_addr", conn.RemoteAddr(), "err", err)
		conn.Close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	h.metrics.Inc(metrics.ConnectionsAccepted)
	h.logger.Debug("peer connected", "peer_id", id, "remote_addr", conn.RemoteAddr())
	h.sendToClient(id, welcomeMessage(id))
}

func (h *Hub) provisionalID() string {
	for {
		id := h.newID()
		if id != "" && !h.reg.Contains(id) {
			return id
		}
	}
}

// shutdown runs on the loop goroutine after cancellation. Connections whose
// accept was still queued are closed along with the registered ones.
func (h *Hub) shutdown() {
	conns := h.sealEvents()
	for _, rec := range h.reg.Records() {
		h.reg.Remove(rec.ID)
		conns = append(conns, rec.Conn)
	}
	h.metrics.SetGauge(metrics.ConnectedPeers, 0)

	// Each close may wait on a slow peer's write deadline; run them together
	// so shutdown takes one deadline rather than one per peer.
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn Conn) {
			defer wg.Done()
			conn.Close(websocket.CloseGoingAway, "server shutting down")
		}(conn)
	}
	wg.Wait()
	h.logger.Info("signaling hub stopped", "closed_connections", len(conns))
}

// sealEvents stops new events from being queued and drains the ones already
// queued, returning connections that were accepted but never registered.
func (h *Hub) sealEvents() []Conn {
	sealed := make(chan struct{})
	go func() {
		// Posters blocked on a full queue hold postMu; the drain below frees them.
		h.postMu.Lock()
		h.sealed = true
		h.postMu.Unlock()
		close(sealed)
	}()

	var pending []Conn
	collect := func(ev event) {
		if a, ok := ev.(acceptEvent); ok {
			pending = append(pending, a.conn)
		}
	}
	for {
		select {
		case ev := <-h.events:
			collect(ev)
		case <-sealed:
			for {
				select {
				case ev := <-h.events:
					collect(ev)
				default:
					return pending
				}
			}
		}
	}
}
