package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/hazyhaar/partyhost/idgen"
	"github.com/hazyhaar/partyhost/kit"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/session"
)

// Poster writes a reply into the chat.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// EventSink records dispatched commands.
type EventSink interface {
	Log(ctx context.Context, ev observability.Event)
}

// Config wires a Dispatcher.
type Config struct {
	Registry *Registry
	Gate     *session.Gate
	Poster   Poster
	Syntax   Syntax

	// ErrorTemplate renders error replies; {{.error}} is the message.
	ErrorTemplate string
	// GenericError is shown when a handler fails or panics.
	GenericError string

	AcquireTimeout time.Duration // default 30s
	HandlerTimeout time.Duration // default 60s

	Events EventSink
	IDs    idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Syntax.Sigils) == 0 {
		c.Syntax = DefaultSyntax()
	}
	if c.ErrorTemplate == "" {
		c.ErrorTemplate = "{{if .user}}{{.user}}: {{end}}{{.error}}"
	}
	if c.GenericError == "" {
		c.GenericError = "something went wrong, try again later"
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 60 * time.Second
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("inv_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outcome reports one dispatch.
type Outcome struct {
	Invocation Invocation
	SessionID  string
	Result     Result
	Reply      string
	Err        error
	Duration   time.Duration
}

// Dispatcher runs invocations one at a time, each in its own UI session.
type Dispatcher struct {
	cfg     Config
	errTmpl *template.Template
	seen    *recentIDs
}

// NewDispatcher validates cfg and builds a Dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	cfg.defaults()
	if cfg.Registry == nil || cfg.Gate == nil || cfg.Poster == nil {
		return nil, errors.New("command: dispatcher needs a registry, a gate and a poster")
	}
	tmpl, err := template.New("error").Option("missingkey=zero").Parse(cfg.ErrorTemplate)
	if err != nil {
		return nil, fmt.Errorf("command: error template: %w", err)
	}
	return &Dispatcher{cfg: cfg, errTmpl: tmpl, seen: newRecentIDs(1024)}, nil
}

// Syntax returns the configured command syntax.
func (d *Dispatcher) Syntax() Syntax { return d.cfg.Syntax }

// Parse parses a chat line with the dispatcher's syntax and assigns an ID.
func (d *Dispatcher) Parse(text string) (Invocation, error) {
	inv, err := Parse(text, d.cfg.Syntax)
	if err != nil {
		return Invocation{}, err
	}
	inv.ID = d.cfg.IDs()
	return inv, nil
}

// Dispatch runs inv inside a UI session and posts the reply. The session
// is released on every path. Unknown names and handler failures produce
// error replies; the error is reported in the Outcome and never panics
// out.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Outcome {
	start := time.Now()
	if inv.ID == "" {
		inv.ID = d.cfg.IDs()
	}
	out := Outcome{Invocation: inv}
	if !d.seen.add(inv.ID) {
		out.Err = fmt.Errorf("%w: %s", ErrDuplicate, inv.ID)
		return out
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.AcquireTimeout)
	sess, err := d.cfg.Gate.Acquire(actx, inv.Name)
	cancel()
	if err != nil {
		out.Err = err
		return out
	}
	defer sess.Close()
	out.SessionID = sess.ID

	ctx = kit.WithSessionID(ctx, sess.ID)
	ctx = kit.WithInvocationID(ctx, inv.ID)
	ctx = kit.WithOriginator(ctx, inv.Originator)

	out.Result, out.Reply, out.Err = d.run(ctx, inv)
	if out.Reply != "" {
		if err := d.cfg.Poster.Post(ctx, out.Reply); err != nil {
			out.Err = errors.Join(out.Err, fmt.Errorf("command: post reply: %w", err))
		}
	}
	out.Duration = time.Since(start)
	d.record(ctx, out)
	return out
}

// Reject answers a line that failed to parse.
func (d *Dispatcher) Reject(ctx context.Context, perr *ParseError) error {
	actx, cancel := context.WithTimeout(ctx, d.cfg.AcquireTimeout)
	sess, err := d.cfg.Gate.Acquire(actx, "reject")
	cancel()
	if err != nil {
		return err
	}
	defer sess.Close()
	reply := d.renderError(perr.Originator, perr.Error())
	if err := d.cfg.Poster.Post(ctx, reply); err != nil {
		return fmt.Errorf("command: post reply: %w", err)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, inv Invocation) (Result, string, error) {
	e, ok := d.cfg.Registry.lookup(inv.Name)
	if !ok {
		msg := fmt.Sprintf("unknown command %q", inv.Name)
		return Errorf("%s", msg), d.renderError(inv.Originator, msg), fmt.Errorf("%w: %s", ErrUnknownCommand, inv.Name)
	}

	hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	var res Result
	herr := guard(d.cfg.Logger, inv.Name, func() error {
		var err error
		res, err = e.spec.Handler.Process(hctx, inv)
		return err
	})
	if herr != nil {
		d.cfg.Logger.Error("command: handler failed", "command", inv.Name, "invocation", inv.ID, "error", herr)
		return nil, d.renderError(inv.Originator, d.cfg.GenericError), herr
	}

	if msg, isErr := res.ErrorText(); isErr {
		return res, d.renderError(inv.Originator, msg), nil
	}
	reply, err := d.render(e.tmpl, inv, res)
	if err != nil {
		d.cfg.Logger.Error("command: render failed", "command", inv.Name, "error", err)
		return res, d.renderError(inv.Originator, d.cfg.GenericError), err
	}
	return res, reply, nil
}

func (d *Dispatcher) render(tmpl *template.Template, inv Invocation, res Result) (string, error) {
	data := make(map[string]any, len(res)+3)
	for k, v := range res {
		data[k] = v
	}
	data["user"] = inv.Originator
	data["command"] = inv.Name
	data["params"] = inv.Params()
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d *Dispatcher) renderError(user, msg string) string {
	var buf bytes.Buffer
	if err := d.errTmpl.Execute(&buf, map[string]any{"user": user, "error": msg}); err != nil {
		return msg
	}
	return buf.String()
}

func (d *Dispatcher) record(ctx context.Context, out Outcome) {
	_, resultErr := out.Result.ErrorText()
	success := out.Err == nil && !resultErr
	attrs := []any{
		"command", out.Invocation.Name,
		"invocation", out.Invocation.ID,
		"session", out.SessionID,
		"originator", out.Invocation.Originator,
		"synthetic", out.Invocation.Synthetic,
		"duration_ms", out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		d.cfg.Logger.Warn("command: dispatched with error", append(attrs, "error", out.Err)...)
	} else {
		d.cfg.Logger.Info("command: dispatched", attrs...)
	}
	if d.cfg.Events == nil {
		return
	}
	details := map[string]any{
		"params":    out.Invocation.Params(),
		"session":   out.SessionID,
		"synthetic": out.Invocation.Synthetic,
		"reply":     out.Reply,
	}
	if out.Err != nil {
		details["error"] = out.Err.Error()
	}
	d.cfg.Events.Log(ctx, observability.Event{
		Type:      observability.EventCommand,
		Component: "command",
		Subject:   out.Invocation.Name,
		Actor:     out.Invocation.Originator,
		Action:    "dispatch",
		Details:   details,
		Success:   success,
	})
}

// recentIDs remembers the last n dispatched invocation IDs.
type recentIDs struct {
	mu   sync.Mutex
	set  map[string]struct{}
	ring []string
	next int
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{set: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add records id and reports whether it was new.
func (r *recentIDs) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ring[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}
