package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/partyhost/command"
)

// Welcome greets users when they join. The join hooks run outside any UI
// session, so they only queue a synthetic :welcome; the greeting itself is
// posted when the queue is drained.
type Welcome struct {
	queue    *command.Queue
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	greeted map[string]time.Time
}

// NewWelcome creates the welcome handler. A zero cooldown greets every
// join.
func NewWelcome(q *command.Queue, cooldown time.Duration) *Welcome {
	return &Welcome{queue: q, cooldown: cooldown, now: time.Now, greeted: make(map[string]time.Time)}
}

func (w *Welcome) OnUserEnter(_ context.Context, name string) error {
	return w.enqueue(name, false)
}

func (w *Welcome) OnUserReturn(_ context.Context, name string) error {
	return w.enqueue(name, true)
}

func (w *Welcome) enqueue(name string, back bool) error {
	w.mu.Lock()
	if at, ok := w.greeted[name]; ok && w.cooldown > 0 && w.now().Sub(at) < w.cooldown {
		w.mu.Unlock()
		return nil
	}
	w.greeted[name] = w.now()
	w.mu.Unlock()

	inv := command.NewInvocation("welcome", name)
	if back {
		inv = command.NewInvocation("welcome", name, "back")
	}
	return w.queue.Push(inv)
}

func (w *Welcome) Process(_ context.Context, inv command.Invocation) (command.Result, error) {
	if inv.Originator == "" {
		return command.Errorf("who should be welcomed?"), nil
	}
	greeting := "Welcome to the party"
	if inv.Param(0) == "back" {
		greeting = "Welcome back"
	}
	return command.Result{"greeting": greeting}, nil
}

// Update forgets greetings older than the cooldown.
func (w *Welcome) Update(context.Context) error {
	if w.cooldown <= 0 {
		return nil
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, at := range w.greeted {
		if now.Sub(at) >= w.cooldown {
			delete(w.greeted, name)
		}
	}
	return nil
}
