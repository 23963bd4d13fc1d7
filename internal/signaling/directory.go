package signaling

import (
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/protocol"
)

func welcomeMessage(id string) protocol.Message {
	return protocol.Welcome{PeerID: id}
}

// sendToClient delivers msg to the peer holding id. Any failure, including a
// connection that is no longer open, disconnects that peer. It reports
// whether the frame was queued.
func (h *Hub) sendToClient(id string, msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode frame", "peer_id", id, "type", msg.Type(), "err", err)
		return false
	}
	return h.sendFrame(id, frame)
}

func (h *Hub) sendFrame(id string, frame []byte) bool {
	rec, ok := h.reg.Get(id)
	if !ok {
		return false
	}
	if !rec.Conn.Open() {
		h.metrics.Inc(metrics.SendFailures)
		h.disconnect(id, "connection not open")
		return false
	}
	if err := rec.Conn.Send(frame); err != nil {
		h.metrics.Inc(metrics.SendFailures)
		h.logger.Warn("send failed", "peer_id", id, "err", err)
		h.disconnect(id, "send failed")
		return false
	}
	return true
}

// broadcast attempts delivery to every peer independently. Peers that fail
// are disconnected; the rest still receive the frame.
func (h *Hub) broadcast(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "type", msg.Type(), "err", err)
		return
	}
	for _, id := range h.reg.Snapshot() {
		h.sendFrame(id, frame)
	}
}

func (h *Hub) markDirty() {
	h.dirty = true
}

// flushDirectory broadcasts the directory until it settles. A failed
// delivery removes a peer and marks the directory dirty again, so every pass
// either ends the loop or shrinks the registry.
func (h *Hub) flushDirectory() {
	for h.dirty {
		h.dirty = false
		h.metrics.Inc(metrics.DirectoryBroadcasts)
		h.broadcast(protocol.Peers{IDs: h.reg.Snapshot()})
	}
}

// disconnect removes id from the directory and drops its connection.
func (h *Hub) disconnect(id, reason string) {
	rec, ok := h.reg.Remove(id)
	if !ok {
		return
	}
	rec.Conn.Terminate()
	h.metrics.Inc(metrics.ConnectionsClosed)
	h.logger.Debug("peer disconnected", "peer_id", id, "reason", reason, "state", rec.State)
	h.markDirty()
}
