// Package session provides the UI session gate: the single mutual
// exclusion token a component must hold while it drives a multi-step
// interaction on the shared UI surface.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/partyhost/idgen"
)

// ErrBusy is returned by TryAcquire while another session is open.
var ErrBusy = errors.New("session: another UI session is open")

// Session is an open critical section. Close releases it; calling Close
// more than once is harmless.
type Session struct {
	ID      string
	Owner   string
	Started time.Time

	gate *Gate
	once sync.Once
}

// Close releases the gate.
func (s *Session) Close() {
	s.once.Do(func() { s.gate.release(s) })
}

// Info describes the open session.
type Info struct {
	ID      string    `json:"id"`
	Owner   string    `json:"owner"`
	Started time.Time `json:"started"`
}

// Gate hands out at most one Session at a time.
type Gate struct {
	slot  chan struct{}
	newID idgen.Generator

	mu     sync.Mutex
	active *Session
}

// Option configures a Gate.
type Option func(*Gate)

// WithIDGenerator replaces the ses_ UUIDv7 generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(g *Gate) { g.newID = gen }
}

// NewGate creates an open gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		slot:  make(chan struct{}, 1),
		newID: idgen.Prefixed("ses_", idgen.Default),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Acquire blocks until the gate is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context, owner string) (*Session, error) {
	select {
	case g.slot <- struct{}{}:
		return g.open(owner), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("session: acquire %q: %w", owner, ctx.Err())
	}
}

// TryAcquire opens a session only if none is open.
func (g *Gate) TryAcquire(owner string) (*Session, error) {
	select {
	case g.slot <- struct{}{}:
		return g.open(owner), nil
	default:
		return nil, ErrBusy
	}
}

// Active reports the open session, if any.
func (g *Gate) Active() (Info, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return Info{}, false
	}
	return Info{ID: g.active.ID, Owner: g.active.Owner, Started: g.active.Started}, true
}

// Busy reports whether a session is open.
func (g *Gate) Busy() bool {
	_, ok := g.Active()
	return ok
}

func (g *Gate) open(owner string) *Session {
	s := &Session{ID: g.newID(), Owner: owner, Started: time.Now(), gate: g}
	g.mu.Lock()
	g.active = s
	g.mu.Unlock()
	return s
}

func (g *Gate) release(s *Session) {
	g.mu.Lock()
	if g.active == s {
		g.active = nil
	}
	g.mu.Unlock()
	<-g.slot
}
