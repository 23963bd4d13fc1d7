package metrics

import "sync"

// Event counter names.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	FramesReceived      = "frames_received"
	FramesMalformed     = "frames_malformed"
	FramesUnknownType   = "frames_unknown_type"
	FramesRateLimited   = "frames_rate_limited"

	Registrations         = "registrations"
	RegistrationConflicts = "registration_conflicts"
	RegistrationsInvalid  = "registrations_invalid"

	RelaysForwarded     = "relays_forwarded"
	RelaysMissingTarget = "relays_missing_target"
	RelaysUnknownTarget = "relays_unknown_target"

	PeerQueries         = "peer_queries"
	DirectoryBroadcasts = "directory_broadcasts"
	SendFailures        = "send_failures"

	LivenessSweeps    = "liveness_sweeps"
	LivenessEvictions = "liveness_evictions"

	UpgradeFailures = "ws_upgrade_failures"
	OriginRejected  = "ws_origin_rejected"
)

// Gauge names.
const (
	ConnectedPeers = "connected_peers"
)

// Metrics is a small, concurrency-safe counter and gauge registry.
//
// The zero value is ready to use.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.gauges == nil {
		m.gauges = make(map[string]int64)
	}
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// GaugeSnapshot returns a copy of all gauges.
func (m *Metrics) GaugeSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
