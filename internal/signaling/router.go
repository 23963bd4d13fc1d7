package signaling

import (
	"errors"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/registry"
)

const idConflictMessage = "Peer ID already in use"

// handleFrame stamps activity for the sender and dispatches the frame.
// Frames from connections the hub has already dropped are ignored.
func (h *Hub) handleFrame(conn Conn, data []byte) {
	rec, ok := h.reg.Lookup(conn)
	if !ok {
		return
	}
	h.reg.Touch(rec.ID, h.clock.Now())
	h.metrics.Inc(metrics.FramesReceived)

	msg, err := protocol.Decode(data)
	if err != nil {
		h.metrics.Inc(metrics.FramesMalformed)
		h.logger.Warn("dropping malformed frame", "peer_id", rec.ID, "err", err)
		return
	}
	h.route(rec.ID, msg)
}

func (h *Hub) route(from string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Register:
		h.handleRegister(from, m)
	case protocol.Relay:
		h.handleRelay(from, m)
	case protocol.GetPeers:
		h.metrics.Inc(metrics.PeerQueries)
		h.sendToClient(from, protocol.Peers{IDs: h.reg.Snapshot()})
	case protocol.Heartbeat:
		// Touch above is all a heartbeat does.
	case protocol.Unknown:
		h.metrics.Inc(metrics.FramesUnknownType)
		h.logger.Warn("ignoring frame with unknown type", "peer_id", from, "type", m.Name)
	default:
		h.metrics.Inc(metrics.FramesUnknownType)
		h.logger.Warn("ignoring unexpected frame", "peer_id", from, "type", msg.Type())
	}
}

// handleRegister binds the sender to the requested id. A peer may register
// again later; the old id is released.
func (h *Hub) handleRegister(from string, m protocol.Register) {
	if m.PeerID == "" {
		h.metrics.Inc(metrics.RegistrationsInvalid)
		h.logger.Warn("register without peerId", "peer_id", from)
		return
	}

	rec, err := h.reg.Reassign(from, m.PeerID)
	switch {
	case errors.Is(err, registry.ErrIDConflict):
		h.metrics.Inc(metrics.RegistrationConflicts)
		h.logger.Info("peer id conflict", "peer_id", from, "requested", m.PeerID)
		h.sendToClient(from, protocol.Error{Message: idConflictMessage})
		return
	case err != nil:
		h.logger.Error("register failed", "peer_id", from, "requested", m.PeerID, "err", err)
		return
	}

	h.metrics.Inc(metrics.Registrations)
	h.logger.Info("peer registered", "peer_id", rec.ID, "previous_id", from)
	if h.sendToClient(rec.ID, protocol.Registered{PeerID: rec.ID}) {
		h.markDirty()
	}
}

// handleRelay forwards an offer, answer or candidate to its target exactly as
// it arrived. Frames for unknown targets are dropped without telling the
// sender.
func (h *Hub) handleRelay(from string, m protocol.Relay) {
	if m.Target == "" {
		h.metrics.Inc(metrics.RelaysMissingTarget)
		h.logger.Warn("dropping relay without target", "peer_id", from, "type", m.Kind)
		return
	}
	if !h.reg.Contains(m.Target) {
		h.metrics.Inc(metrics.RelaysUnknownTarget)
		h.logger.Debug("dropping relay for unknown target", "peer_id", from, "type", m.Kind, "target", m.Target)
		return
	}
	if h.sendToClient(m.Target, m) {
		h.metrics.Inc(metrics.RelaysForwarded)
	}
}
