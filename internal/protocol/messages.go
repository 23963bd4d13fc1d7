// Package protocol defines the JSON frames exchanged between peers and the
// signaling relay.
//
// Every frame is a single JSON object with a "type" discriminator. Inbound
// frames decode into one of the Message variants below; negotiation payloads
// (offer, answer, candidate) are never decoded and are relayed byte for byte.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeRegister     Type = "register"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeGetPeers     Type = "get-peers"
	TypeHeartbeat    Type = "heartbeat"

	TypeWelcome    Type = "welcome"
	TypeRegistered Type = "registered"
	TypePeers      Type = "peers"
	TypeError      Type = "error"
)

// ErrMalformed is returned by Decode when a frame is not a JSON object with
// well-typed envelope fields.
var ErrMalformed = errors.New("malformed message")

// Message is implemented by every frame variant.
type Message interface {
	Type() Type
}

// Register asks the relay to bind the sending connection to PeerID.
type Register struct {
	PeerID string
}

// Relay is an offer, answer or ice-candidate addressed to another peer. Raw is
// the frame exactly as received.
type Relay struct {
	Kind   Type
	Source string
	Target string
	Raw    []byte
}

type GetPeers struct{}

type Heartbeat struct{}

// Unknown carries any type the relay does not handle, including
// server-originated types sent by a client.
type Unknown struct {
	Name string
}

// Welcome is sent once on accept with the provisional id.
type Welcome struct {
	PeerID string
}

type Registered struct {
	PeerID string
}

// Peers is a directory snapshot.
type Peers struct {
	IDs []string
}

type Error struct {
	Message string
}

func (Register) Type() Type { return TypeRegister }
func (m Relay) Type() Type { return m.Kind }
func (GetPeers) Type() Type { return TypeGetPeers }
func (Heartbeat) Type() Type { return TypeHeartbeat }
func (m Unknown) Type() Type { return Type(m.Name) }
func (Welcome) Type() Type { return TypeWelcome }
func (Registered) Type() Type { return TypeRegistered }
func (Peers) Type() Type { return TypePeers }
func (Error) Type() Type { return TypeError }

// IsRelay reports whether t is forwarded peer-to-peer.
func IsRelay(t Type) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}

type envelope struct {
	Type   string
	Source string
	Target string
	PeerID string
}

// envelopeKeys are matched exactly. encoding/json folds case when decoding
// into a struct, which would let "Target" shadow the "target" peers read.
var envelopeKeys = []struct {
	key   string
	field func(*envelope) *string
}{
	{"type", func(e *envelope) *string { return &e.Type }},
	{"source", func(e *envelope) *string { return &e.Source }},
	{"target", func(e *envelope) *string { return &e.Target }},
	{"peerId", func(e *envelope) *string { return &e.PeerID }},
}

// Decode parses one inbound frame. Only the envelope fields are inspected.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var env envelope
	for _, k := range envelopeKeys {
		raw, ok := fields[k.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, k.field(&env)); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformed, k.key, err)
		}
	}

	switch t := Type(env.Type); t {
	case TypeRegister:
		return Register{PeerID: env.PeerID}, nil
	case TypeOffer, TypeAnswer, TypeICECandidate:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Relay{Kind: t, Source: env.Source, Target: env.Target, Raw: raw}, nil
	case TypeGetPeers:
		return GetPeers{}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	default:
		return Unknown{Name: env.Type}, nil
	}
}

type wireWelcome struct {
	Type   Type   `json:"type"`
	PeerID string `json:"peerId"`
}

type wirePeers struct {
	Type  Type     `json:"type"`
	Peers []string `json:"peers"`
}

type wireError struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// Encode serializes a server-originated message. Relay messages encode to
// their original bytes.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case Welcome:
		return json.Marshal(wireWelcome{Type: TypeWelcome, PeerID: m.PeerID})
	case Registered:
		return json.Marshal(wireWelcome{Type: TypeRegistered, PeerID: m.PeerID})
	case Peers:
		ids := m.IDs
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(wirePeers{Type: TypePeers, Peers: ids})
	case Error:
		return json.Marshal(wireError{Type: TypeError, Message: m.Message})
	case Relay:
		if len(m.Raw) == 0 {
			return nil, fmt.Errorf("relay %s has no payload", m.Kind)
		}
		return m.Raw, nil
	default:
		return nil, fmt.Errorf("message type %q is not sent by the server", m.Type())
	}
}
