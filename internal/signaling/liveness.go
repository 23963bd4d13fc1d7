package signaling

import "github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"

// sweep evicts every peer that has not sent a frame for longer than the idle
// timeout. The directory is rebroadcast after every sweep, evictions or not.
func (h *Hub) sweep() {
	h.metrics.Inc(metrics.LivenessSweeps)

	idle := h.reg.Idle(h.clock.Now(), h.idleTimeout)
	for _, id := range idle {
		h.metrics.Inc(metrics.LivenessEvictions)
		h.logger.Info("evicting idle peer", "peer_id", id, "idle_timeout", h.idleTimeout)
		h.disconnect(id, "idle timeout")
	}
	h.markDirty()
}
