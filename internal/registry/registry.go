// Package registry tracks which connection currently holds which peer id.
//
// A Registry is the single source of truth for "who is connected". It is not
// safe for concurrent use: the signaling hub owns it and only touches it from
// its event loop.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrIDConflict is returned by Reassign when the requested id is already
	// bound to a different connection.
	ErrIDConflict = errors.New("peer id already in use")
	// ErrUnknownID is returned when an operation names an id that has no record.
	ErrUnknownID = errors.New("unknown peer id")
	// ErrDuplicateID is returned by Insert when the id is taken.
	ErrDuplicateID = errors.New("duplicate peer id")
	// ErrDuplicateConn is returned by Insert when the connection already has a
	// record under another id.
	ErrDuplicateConn = errors.New("connection already registered")
)

// State is the identity state of a record.
type State uint8

const (
	// StateProvisional records carry the server-assigned id handed out on
	// accept.
	StateProvisional State = iota
	// StateRegistered records carry an id the peer asked for.
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateRegistered:
		return "registered"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Record is one connected client.
type Record[C comparable] struct {
	ID       string
	Conn     C
	State    State
	LastSeen time.Time
}

// Registry maps peer ids to records and keeps a reverse index from connection
// to id so connection events can be resolved after an id change.
type Registry[C comparable] struct {
	byID   map[string]*Record[C]
	byConn map[C]string
}

func New[C comparable]() *Registry[C] {
	return &Registry[C]{
		byID:   make(map[string]*Record[C]),
		byConn: make(map[C]string),
	}
}

// Insert adds a provisional record for conn under id.
func (r *Registry[C]) Insert(id string, conn C, now time.Time) (*Record[C], error) {
	if _, ok := r.byID[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	if existing, ok := r.byConn[conn]; ok {
		return nil, fmt.Errorf("%w: held by %q", ErrDuplicateConn, existing)
	}
	rec := &Record[C]{
		ID:       id,
		Conn:     conn,
		State:    StateProvisional,
		LastSeen: now,
	}
	r.byID[id] = rec
	r.byConn[conn] = id
	return rec, nil
}

// Reassign moves the record held under oldID to newID and marks it
// registered. The old key is removed before the new one is written, so no id
// ever resolves to the connection twice.
//
// Reassigning an id onto itself succeeds without changing the key.
func (r *Registry[C]) Reassign(oldID, newID string) (*Record[C], error) {
	rec, ok := r.byID[oldID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownID, oldID)
	}
	if holder, ok := r.byID[newID]; ok {
		if holder.Conn != rec.Conn {
			return nil, fmt.Errorf("%w: %q", ErrIDConflict, newID)
		}
		rec.State = StateRegistered
		return rec, nil
	}

	delete(r.byID, oldID)
	rec.ID = newID
	rec.State = StateRegistered
	r.byID[newID] = rec
	r.byConn[rec.Conn] = newID
	return rec, nil
}

// Remove deletes the record for id and returns it.
func (r *Registry[C]) Remove(id string) (*Record[C], bool) {
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	if r.byConn[rec.Conn] == id {
		delete(r.byConn, rec.Conn)
	}
	return rec, true
}

func (r *Registry[C]) Get(id string) (*Record[C], bool) {
	rec, ok := r.byID[id]
	return rec, ok
}

// Lookup resolves the record currently bound to conn.
func (r *Registry[C]) Lookup(conn C) (*Record[C], bool) {
	id, ok := r.byConn[conn]
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

func (r *Registry[C]) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Touch records activity for id.
func (r *Registry[C]) Touch(id string, now time.Time) bool {
	rec, ok := r.byID[id]
	if !ok {
		return false
	}
	rec.LastSeen = now
	return true
}

func (r *Registry[C]) Len() int {
	return len(r.byID)
}

// Snapshot returns a sorted copy of every id currently held.
func (r *Registry[C]) Snapshot() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns the records sorted by id. The slice is a copy; the records
// are not.
func (r *Registry[C]) Records() []*Record[C] {
	out := make([]*Record[C], 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Idle returns the ids whose last activity is strictly more than threshold
// before now.
func (r *Registry[C]) Idle(now time.Time, threshold time.Duration) []string {
	var ids []string
	for id, rec := range r.byID {
		if now.Sub(rec.LastSeen) > threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
