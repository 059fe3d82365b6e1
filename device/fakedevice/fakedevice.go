// Package fakedevice is a scriptable in-memory device.Backend.
//
// It models a chat history seen through a sliding viewport, a set of named
// UI fragments that make up the rest of the screen, and a log of every
// action the host performed. The "fake" driver of the binary uses it for
// dry runs; package tests use it to script gaps, popups and crashes.
package fakedevice

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/uitree"
)

// Device is the fake backend. All methods are safe for concurrent use so
// tests can mutate the script while the host loop runs.
type Device struct {
	mu sync.Mutex

	history  []string
	viewport int
	step     int
	bottom   int // one past the last visible history index

	fragments map[string]string
	order     []string

	unavailable int
	crashed     bool
	echo        bool
	sender      string

	onClick func(device.Handle)
	onTap   func(device.Side)

	actions []string
	posts   []string
	resets  int
}

// Option configures a Device.
type Option func(*Device)

// WithViewport sets how many entries are visible at once. Default 3.
func WithViewport(n int) Option { return func(d *Device) { d.viewport = n } }

// WithStep sets how many entries one scroll gesture moves. Default 1.
func WithStep(n int) Option { return func(d *Device) { d.step = n } }

// WithHistory preloads the chat, scrolled to the newest entry.
func WithHistory(texts ...string) Option {
	return func(d *Device) { d.history = append(d.history, texts...) }
}

// WithEcho makes Post append the posted line to the chat history, as
// "sender: text" when sender is set, the way a chat shows our own lines.
func WithEcho(sender string) Option {
	return func(d *Device) { d.echo, d.sender = true, sender }
}

// New creates a fake device.
func New(opts ...Option) *Device {
	d := &Device{viewport: 3, step: 1, fragments: make(map[string]string)}
	for _, o := range opts {
		o(d)
	}
	if d.viewport < 1 {
		d.viewport = 1
	}
	if d.step < 1 {
		d.step = 1
	}
	d.bottom = len(d.history)
	return d
}

// --- scripting ---

// Append adds chat lines. A view resting on the newest entry follows them.
func (d *Device) Append(texts ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	follow := d.bottom == len(d.history)
	d.history = append(d.history, texts...)
	if follow {
		d.bottom = len(d.history)
	}
}

// SetFragment puts a named piece of markup on screen, replacing any
// fragment with the same name.
func (d *Device) SetFragment(name, markup string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fragments[name]; !ok {
		d.order = append(d.order, name)
	}
	d.fragments[name] = markup
}

// RemoveFragment takes a fragment off screen.
func (d *Device) RemoveFragment(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fragments[name]; !ok {
		return
	}
	delete(d.fragments, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// FailReads makes the next n message reads report zero containers.
func (d *Device) FailReads(n int) {
	d.mu.Lock()
	d.unavailable = n
	d.mu.Unlock()
}

// Crash makes every call fail with device.ErrBackendCrashed until Reset.
func (d *Device) Crash() {
	d.mu.Lock()
	d.crashed = true
	d.mu.Unlock()
}

// OnClick registers a hook run after every successful click. The hook may
// call back into the device.
func (d *Device) OnClick(fn func(device.Handle)) {
	d.mu.Lock()
	d.onClick = fn
	d.mu.Unlock()
}

// OnTap registers a hook run after every edge tap.
func (d *Device) OnTap(fn func(device.Side)) {
	d.mu.Lock()
	d.onTap = fn
	d.mu.Unlock()
}

// Actions returns the log of clicks, taps, scrolls and posts, in order.
func (d *Device) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// Posts returns every line posted to the chat.
func (d *Device) Posts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.posts...)
}

// Resets returns how many times Reset was called.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// ClearActions empties the action log.
func (d *Device) ClearActions() {
	d.mu.Lock()
	d.actions = nil
	d.mu.Unlock()
}

// --- device.Backend ---

func (d *Device) VisibleMessages(ctx context.Context) ([]device.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.crashed {
		return nil, device.ErrBackendCrashed
	}
	if d.unavailable > 0 {
		d.unavailable--
		return nil, device.ErrProviderUnavailable
	}
	if len(d.history) == 0 {
		return nil, device.ErrProviderUnavailable
	}
	lo := d.top()
	out := make([]device.Entry, 0, d.bottom-lo)
	for i, text := range d.history[lo:d.bottom] {
		out = append(out, device.Entry{Identity: fmt.Sprintf("row-%d", i), Text: text})
	}
	return out, nil
}

func (d *Device) Scroll(ctx context.Context, dir device.Direction) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.crashed {
		return false, device.ErrBackendCrashed
	}
	prev := d.bottom
	switch dir {
	case device.Older:
		d.bottom = max(d.bottom-d.step, min(d.viewport, len(d.history)))
	case device.Newer:
		d.bottom = min(d.bottom+d.step, len(d.history))
	}
	moved := d.bottom != prev
	if moved {
		d.actions = append(d.actions, "scroll:"+dir.String())
	}
	return moved, nil
}

func (d *Device) Snapshot(ctx context.Context) (*uitree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.crashed {
		return nil, device.ErrBackendCrashed
	}
	return uitree.Parse([]byte(d.markupLocked()))
}

func (d *Device) Locate(ctx context.Context, key uitree.Key) (device.Handle, bool, error) {
	tree, err := d.Snapshot(ctx)
	if err != nil {
		return device.Handle{}, false, err
	}
	n, ok := tree.First(key)
	if !ok {
		return device.Handle{}, false, nil
	}
	return device.Handle{Key: key, Text: n.Label()}, true, nil
}

func (d *Device) Click(ctx context.Context, h device.Handle) (bool, error) {
	tree, err := d.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if len(tree.Find(h.Key)) <= h.Index {
		return false, nil
	}
	d.mu.Lock()
	d.actions = append(d.actions, "click:"+h.Key.String())
	hook := d.onClick
	d.mu.Unlock()
	if hook != nil {
		hook(h)
	}
	return true, nil
}

func (d *Device) WaitClickable(ctx context.Context, key uitree.Key, timeout time.Duration) (device.Handle, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, ok, err := d.Locate(ctx, key)
		if err != nil || ok {
			return h, ok, err
		}
		if time.Now().After(deadline) {
			return device.Handle{}, false, nil
		}
		select {
		case <-ctx.Done():
			return device.Handle{}, false, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (d *Device) TapEdge(ctx context.Context, side device.Side) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.crashed {
		d.mu.Unlock()
		return device.ErrBackendCrashed
	}
	d.actions = append(d.actions, "tap:"+string(side))
	hook := d.onTap
	d.mu.Unlock()
	if hook != nil {
		hook(side)
	}
	return nil
}

func (d *Device) Post(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.crashed {
		d.mu.Unlock()
		return device.ErrBackendCrashed
	}
	d.actions = append(d.actions, "post:"+text)
	d.posts = append(d.posts, text)
	echo, sender := d.echo, d.sender
	d.mu.Unlock()
	if echo {
		if sender != "" {
			text = sender + ": " + text
		}
		d.Append(text)
	}
	return nil
}

func (d *Device) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashed = false
	d.resets++
	d.bottom = len(d.history)
	return nil
}

func (d *Device) Close() error { return nil }

func (d *Device) top() int {
	return max(0, d.bottom-d.viewport)
}

func (d *Device) markupLocked() string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, name := range d.order {
		sb.WriteString(d.fragments[name])
	}
	sb.WriteString(`<ul id="messages">`)
	for _, text := range d.history[d.top():d.bottom] {
		sb.WriteString(`<li class="msg">`)
		sb.WriteString(html.EscapeString(text))
		sb.WriteString(`</li>`)
	}
	sb.WriteString("</ul></body></html>")
	return sb.String()
}

var _ device.Backend = (*Device)(nil)
