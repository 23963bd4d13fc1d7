// Package signaling is the relay engine: it accepts peer WebSocket
// connections, tracks who holds which peer id, routes negotiation frames
// between peers, broadcasts the peer directory and evicts idle peers.
//
// All registry state is owned by a single Hub goroutine. Connection
// goroutines only move frames between the socket and the hub's event queue,
// so frames from one connection are handled in arrival order.
package signaling
