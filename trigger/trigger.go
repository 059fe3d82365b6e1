// Package trigger fans one UI-tree snapshot per cycle out to handlers
// bound to element keys.
//
// Bindings are registered at startup and frozen before the loop starts.
// Each cycle every distinct key is located once in the snapshot; handlers
// receive read-only Element wrappers and can only act on the live UI
// through Element.Click, which re-locates the element and refuses while a
// command holds the UI session.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/uitree"
)

var (
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("trigger: registry is frozen")

	// ErrSessionOpen is returned by Element.Click while another component
	// holds the UI session.
	ErrSessionOpen = errors.New("trigger: a UI session is open")
)

// Event is what a handler receives for one key found in the snapshot.
// Elements holds the first match, or every match for Multi keys.
type Event struct {
	Key      uitree.Key
	Elements []*Element
}

// Handler reacts to a key present in the cycle's snapshot.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Binding ties a handler to its keys.
type Binding struct {
	Keys    []uitree.Key
	Handler Handler
}

// Registry holds the bindings.
type Registry struct {
	loc    device.Locator
	gate   *session.Gate
	logger *slog.Logger

	mu       sync.Mutex
	bindings []Binding
	frozen   bool
}

// NewRegistry creates an empty registry. loc and gate back Element.Click.
func NewRegistry(loc device.Locator, gate *session.Gate, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{loc: loc, gate: gate, logger: logger}
}

// Register binds h to keys. A handler may be bound to several keys and a
// key may have several handlers.
func (r *Registry) Register(h Handler, keys ...uitree.Key) error {
	if h == nil || len(keys) == 0 {
		return errors.New("trigger: binding needs a handler and at least one key")
	}
	for _, k := range keys {
		if k.IsZero() {
			return fmt.Errorf("trigger: key %q addresses nothing", k.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.bindings = append(r.bindings, Binding{Keys: append([]uitree.Key(nil), keys...), Handler: h})
	return nil
}

// Freeze stops further registration. Dispatch freezes implicitly.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// Dispatch locates every bound key once in tree and calls the handlers of
// the keys present, in registration order. It returns how many handler
// calls were made. Handler failures and panics are logged and joined; they
// never stop the other handlers.
func (r *Registry) Dispatch(ctx context.Context, tree *uitree.Tree) (int, error) {
	r.mu.Lock()
	r.frozen = true
	bindings := r.bindings
	r.mu.Unlock()

	found := make(map[uitree.Key][]*uitree.Node)
	lookup := func(k uitree.Key) []*uitree.Node {
		nodes, ok := found[k]
		if !ok {
			nodes = tree.Find(k)
			found[k] = nodes
		}
		return nodes
	}

	calls := 0
	var errs []error
	for _, b := range bindings {
		for _, k := range b.Keys {
			nodes := lookup(k)
			if len(nodes) == 0 {
				continue
			}
			if !k.Multi {
				nodes = nodes[:1]
			}
			ev := Event{Key: k, Elements: make([]*Element, len(nodes))}
			for i, n := range nodes {
				ev.Elements[i] = &Element{node: n, key: k, index: i, reg: r}
			}
			calls++
			if err := r.call(ctx, b.Handler, ev); err != nil {
				r.logger.Warn("trigger: handler failed", "key", k.String(), "error", err)
				errs = append(errs, err)
			}
		}
	}
	return calls, errors.Join(errs...)
}

func (r *Registry) call(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("trigger: handler panic recovered", "key", ev.Key.String(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("trigger: handler for %s panicked: %v", ev.Key, p)
		}
	}()
	return h.Handle(ctx, ev)
}

// Element is a read-only view of one matched element.
type Element struct {
	node  *uitree.Node
	key   uitree.Key
	index int
	reg   *Registry
}

// Key returns the key the element was found by.
func (e *Element) Key() uitree.Key { return e.key }

// Index returns the element's position among the key's matches.
func (e *Element) Index() int { return e.index }

// Text returns the element's visible text.
func (e *Element) Text() string { return e.node.Text() }

// Label returns the content description or, failing that, the text.
func (e *Element) Label() string { return e.node.Label() }

// Attr returns an attribute value.
func (e *Element) Attr(name string) (string, bool) { return e.node.Attr(name) }

// Click clicks the element on the live UI. It opens a short UI session of
// its own and fails with ErrSessionOpen while another one is held. The
// element is looked up again by key and index; false means it is gone.
func (e *Element) Click(ctx context.Context) (bool, error) {
	if e.reg.loc == nil || e.reg.gate == nil {
		return false, errors.New("trigger: registry has no backend")
	}
	sess, err := e.reg.gate.TryAcquire("trigger:" + e.key.String())
	if err != nil {
		return false, ErrSessionOpen
	}
	defer sess.Close()
	return e.reg.loc.Click(ctx, device.Handle{Key: e.key, Index: e.index, Text: e.node.Label()})
}
