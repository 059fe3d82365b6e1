package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"text/template"
)

// Result is what a handler returns. The "error" key turns the reply into
// an error reply; every other key is available to the response template.
type Result map[string]any

// Errorf builds an error Result.
func Errorf(format string, args ...any) Result {
	return Result{"error": fmt.Sprintf(format, args...)}
}

// ErrorText returns the "error" value, if set.
func (r Result) ErrorText() (string, bool) {
	v, ok := r["error"]
	if !ok || v == nil {
		return "", false
	}
	s := fmt.Sprint(v)
	return s, s != ""
}

// Handler executes one command. It runs inside a UI session and may drive
// the UI freely.
type Handler interface {
	Process(ctx context.Context, inv Invocation) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f HandlerFunc) Process(ctx context.Context, inv Invocation) (Result, error) { return f(ctx, inv) }

// Updater is implemented by handlers with time-based state. Update runs
// once per host cycle whether or not a command fired. It runs outside any
// UI session and must not touch the UI.
type Updater interface {
	Update(ctx context.Context) error
}

// UserEnterHandler is notified when a user joins for the first time.
type UserEnterHandler interface {
	OnUserEnter(ctx context.Context, name string) error
}

// UserReturnHandler is notified when a known user joins again.
type UserReturnHandler interface {
	OnUserReturn(ctx context.Context, name string) error
}

// Spec registers one command.
type Spec struct {
	Name    string
	Usage   string
	Handler Handler
	// Template renders a successful Result. Result keys are fields; the
	// originator is {{.user}}. Empty means "{{.user}}: ok".
	Template string
}

// Usage is the help line of one command.
type Usage struct {
	Name  string `json:"name"`
	Usage string `json:"usage"`
}

type entry struct {
	spec Spec
	tmpl *template.Template
}

// Registry is the static command table, built once at startup. It is
// read-only afterwards and safe for concurrent lookups.
type Registry struct {
	entries map[string]*entry
	names   []string
	logger  *slog.Logger
}

// NewRegistry builds a registry. Duplicate names, names with upper-case
// letters (parsed lines are lower-cased, so they could never match) and
// invalid templates are errors.
func NewRegistry(logger *slog.Logger, specs ...Spec) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{entries: make(map[string]*entry, len(specs)), logger: logger}
	for _, s := range specs {
		if !validName(s.Name) || s.Name != strings.ToLower(s.Name) || s.Handler == nil {
			return nil, fmt.Errorf("command: invalid spec %q", s.Name)
		}
		if _, dup := r.entries[s.Name]; dup {
			return nil, fmt.Errorf("command: duplicate command %q", s.Name)
		}
		src := s.Template
		if src == "" {
			src = "{{.user}}: ok"
		}
		tmpl, err := template.New(s.Name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("command: template for %q: %w", s.Name, err)
		}
		r.entries[s.Name] = &entry{spec: s, tmpl: tmpl}
		r.names = append(r.names, s.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) lookup(name string) (*entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Usages returns the help lines, sorted by name.
func (r *Registry) Usages() []Usage {
	out := make([]Usage, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, Usage{Name: n, Usage: r.entries[n].spec.Usage})
	}
	return out
}

// Update calls every Updater once. Failures are logged and joined; one
// failing handler does not stop the others.
func (r *Registry) Update(ctx context.Context) error {
	var errs []error
	for _, n := range r.names {
		u, ok := r.entries[n].spec.Handler.(Updater)
		if !ok {
			continue
		}
		if err := guard(r.logger, n, func() error { return u.Update(ctx) }); err != nil {
			r.logger.Warn("command: update failed", "command", n, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserEnter notifies every UserEnterHandler.
func (r *Registry) UserEnter(ctx context.Context, name string) error {
	var errs []error
	for _, n := range r.names {
		h, ok := r.entries[n].spec.Handler.(UserEnterHandler)
		if !ok {
			continue
		}
		if err := guard(r.logger, n, func() error { return h.OnUserEnter(ctx, name) }); err != nil {
			r.logger.Warn("command: user enter hook failed", "command", n, "user", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserReturn notifies every UserReturnHandler.
func (r *Registry) UserReturn(ctx context.Context, name string) error {
	var errs []error
	for _, n := range r.names {
		h, ok := r.entries[n].spec.Handler.(UserReturnHandler)
		if !ok {
			continue
		}
		if err := guard(r.logger, n, func() error { return h.OnUserReturn(ctx, name) }); err != nil {
			r.logger.Warn("command: user return hook failed", "command", n, "user", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// guard runs fn, converting a panic or an error into a *HandlerError.
func guard(logger *slog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("command: handler panic recovered", "command", name, "panic", p, "stack", string(debug.Stack()))
			err = &HandlerError{Command: name, Panic: p}
		}
	}()
	if e := fn(); e != nil {
		return &HandlerError{Command: name, Cause: e}
	}
	return nil
}
