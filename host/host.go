// Package host runs the partyhost main loop: each cycle drains pending
// synthetic commands, reconciles the chat stream, dispatches the commands
// it finds, fires UI triggers and runs one recovery step. Failing cycles
// are counted against an error budget; a crashed backend is reset with
// exponential backoff.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/recovery"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/stream"
	"github.com/hazyhaar/partyhost/trigger"
)

// EventSink records host-level events (backend resets, operator requests).
type EventSink interface {
	Log(ctx context.Context, ev observability.Event)
}

// Metrics receives per-cycle measurements.
type Metrics interface {
	Count(name string, n int)
	Duration(name string, d time.Duration)
}

// Deps are the collaborators the loop drives. The first block is
// required.
type Deps struct {
	Backend    device.Backend
	Reconciler *stream.Reconciler
	Dispatcher *command.Dispatcher
	Commands   *command.Registry
	Queue      *command.Queue
	Recovery   *recovery.Machine
	Triggers   *trigger.Registry
	Gate       *session.Gate

	Scheduler   *command.Scheduler
	Keywords    *command.KeywordMatcher
	Joins       *command.JoinDetector
	Checkpoints *stream.Store
	Metrics     Metrics
	Events      EventSink
}

// Config tunes the loop.
type Config struct {
	// Name identifies the stream checkpoint. Default "chat".
	Name string
	// Self is the chat name the host posts under. Its lines are never
	// parsed as commands, keywords or joins.
	Self string

	CycleInterval   time.Duration // default 1s
	CycleTimeout    time.Duration // default 2m
	ErrorThreshold  int           // default 5
	ResetBackoff    time.Duration // default 1s
	ResetBackoffMax time.Duration // default 1m

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "chat"
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 2 * time.Minute
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	if c.ResetBackoff <= 0 {
		c.ResetBackoff = time.Second
	}
	if c.ResetBackoffMax <= 0 {
		c.ResetBackoffMax = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CycleReport describes one cycle.
type CycleReport struct {
	Cycle      uint64
	Started    time.Time
	Duration   time.Duration
	Delivered  int
	Dispatched int
	Triggers   int
	Recovery   recovery.Outcome
	Reset      bool
	// Err is the failure counted against the budget, nil for a clean cycle.
	Err error
	// Exhausted is set when Err pushed the budget over its threshold.
	Exhausted bool
}

// Host owns the loop. RunCycle and Run must not be called concurrently;
// Status, Inject and ForceRecovery are safe from any goroutine.
type Host struct {
	deps   Deps
	cfg    Config
	budget *Budget
	cycle  atomic.Uint64

	// carry holds commands read from the chat but not yet dispatched when
	// a crash interrupted the cycle. Loop goroutine only.
	carry        []command.Invocation
	resetAttempt int

	mu     sync.Mutex
	last   CycleReport
	resets int
	stats  stream.Stats
	window []string
}

// New validates deps and builds a Host.
func New(deps Deps, cfg Config) (*Host, error) {
	cfg.defaults()
	if deps.Backend == nil || deps.Reconciler == nil || deps.Dispatcher == nil ||
		deps.Commands == nil || deps.Queue == nil || deps.Recovery == nil ||
		deps.Triggers == nil || deps.Gate == nil {
		return nil, errors.New("host: missing dependency")
	}
	deps.Triggers.Freeze()
	return &Host{deps: deps, cfg: cfg, budget: NewBudget(cfg.ErrorThreshold)}, nil
}

// Cycle returns the number of cycles started so far.
func (h *Host) Cycle() uint64 { return h.cycle.Load() }

// Run drives cycles until ctx is done (nil) or the error budget is
// exhausted (an error wrapping ErrRestartRequired).
func (h *Host) Run(ctx context.Context) error {
	h.cfg.Logger.Info("host: started",
		"interval", h.cfg.CycleInterval, "error_threshold", h.cfg.ErrorThreshold,
		"commands", h.deps.Commands.Names(), "triggers", h.deps.Triggers.Len())
	ticker := time.NewTicker(h.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		rep := h.RunCycle(ctx)
		if rep.Exhausted {
			st := h.budget.State()
			h.cfg.Logger.Error("host: error budget exhausted",
				"failures", st.Failures, "last_error", rep.Err)
			return fmt.Errorf("%w: %d consecutive failing cycles: %v", ErrRestartRequired, st.Failures, rep.Err)
		}
		select {
		case <-ctx.Done():
			h.cfg.Logger.Info("host: stopped", "cycles", h.Cycle())
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle runs one full cycle.
func (h *Host) RunCycle(ctx context.Context) CycleReport {
	start := h.cfg.Now()
	rep := CycleReport{Cycle: h.cycle.Add(1), Started: start}
	before := h.deps.Reconciler.Stats()

	cctx, cancel := context.WithTimeout(ctx, h.cfg.CycleTimeout)
	err := h.runCycle(cctx, &rep)
	cancel()

	if device.IsCrash(err) {
		rep.Reset = h.resetBackend(ctx)
	} else if err == nil {
		h.resetAttempt = 0
	}
	rep.Err = err
	if err != nil {
		rep.Exhausted = h.budget.RecordFailure(err)
		h.cfg.Logger.Warn("host: cycle failed", "cycle", rep.Cycle, "error", err)
	} else {
		h.budget.RecordSuccess()
	}

	if h.deps.Checkpoints != nil && ctx.Err() == nil {
		w := h.deps.Reconciler.Window()
		if serr := h.deps.Checkpoints.Save(ctx, h.cfg.Name, w.Items(), h.deps.Reconciler.Stats().Delivered); serr != nil {
			h.cfg.Logger.Warn("host: checkpoint save failed", "error", serr)
		}
	}

	after := h.deps.Reconciler.Stats()
	rep.Duration = h.cfg.Now().Sub(start)
	h.measure(rep, before, after)

	h.mu.Lock()
	h.last = rep
	h.stats, h.window = after, h.deps.Reconciler.Window().Items()
	if rep.Reset {
		h.resets++
	}
	h.mu.Unlock()
	return rep
}

// runCycle returns the error that makes this cycle count as failed: a
// backend crash or an unknown UI state. Everything else is logged.
func (h *Host) runCycle(ctx context.Context, rep *CycleReport) error {
	if err := h.dispatchPending(ctx, rep); err != nil {
		return err
	}

	entries, err := h.deps.Reconciler.Poll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrGapUnrecoverable):
		h.cfg.Logger.Warn("host: gap not recovered, delivering partial", "entries", len(entries))
	case errors.Is(err, device.ErrProviderUnavailable):
		h.cfg.Logger.Debug("host: message list unavailable")
	case device.IsCrash(err):
		return err
	default:
		h.cfg.Logger.Warn("host: poll failed", "error", err)
	}
	rep.Delivered = len(entries)
	for i, e := range entries {
		if err := h.handleEntry(ctx, e, rep); err != nil {
			h.carryRemaining(entries[i+1:])
			return err
		}
	}

	if err := h.deps.Commands.Update(ctx); err != nil {
		h.cfg.Logger.Warn("host: command update failed", "error", err)
	}

	tree, err := h.deps.Backend.Snapshot(ctx)
	if err != nil {
		if device.IsCrash(err) {
			return err
		}
		h.cfg.Logger.Warn("host: snapshot failed", "error", err)
		return nil
	}
	rep.Triggers, err = h.deps.Triggers.Dispatch(ctx, tree)
	if err != nil {
		if device.IsCrash(err) {
			return err
		}
		h.cfg.Logger.Warn("host: triggers failed", "error", err)
	}

	rep.Recovery, err = h.deps.Recovery.Step(ctx, tree, false)
	switch {
	case err == nil:
	case errors.Is(err, recovery.ErrUnknownAnomaly), device.IsCrash(err):
		return err
	default:
		h.cfg.Logger.Warn("host: recovery step failed", "error", err)
	}
	return nil
}

// dispatchPending runs carried-over, queued and scheduled commands, in
// that order. On a crash the rest goes back to the carry list.
func (h *Host) dispatchPending(ctx context.Context, rep *CycleReport) error {
	pending := h.carry
	h.carry = nil
	pending = append(pending, h.deps.Queue.Drain()...)
	if h.deps.Scheduler != nil {
		for _, inv := range h.deps.Scheduler.Due(h.cfg.Now()) {
			inv.Synthetic = true
			pending = append(pending, inv)
		}
	}
	for i, inv := range pending {
		if err := h.dispatch(ctx, inv, rep); err != nil {
			h.carry = append(h.carry, pending[i+1:]...)
			return err
		}
	}
	return nil
}

func (h *Host) handleEntry(ctx context.Context, e device.Entry, rep *CycleReport) error {
	inv, err := h.deps.Dispatcher.Parse(e.Text)
	var perr *command.ParseError
	switch {
	case err == nil:
		if h.isSelf(inv.Originator) {
			return nil
		}
		return h.dispatch(ctx, inv, rep)
	case errors.As(err, &perr):
		if h.isSelf(perr.Originator) {
			return nil
		}
		if rerr := h.deps.Dispatcher.Reject(ctx, perr); rerr != nil {
			if device.IsCrash(rerr) {
				return rerr
			}
			h.cfg.Logger.Warn("host: reject reply failed", "error", rerr)
		}
		return nil
	}
	h.observe(ctx, e.Text)
	return nil
}

// observe feeds a plain chat line to the keyword matcher and the join
// detector.
func (h *Host) observe(ctx context.Context, text string) {
	if h.deps.Keywords != nil {
		for _, inv := range h.deps.Keywords.Match(text) {
			if h.isSelf(inv.Originator) {
				continue
			}
			if err := h.deps.Queue.Push(inv); err != nil {
				h.cfg.Logger.Warn("host: keyword command dropped", "command", inv.Name, "error", err)
			}
		}
	}
	if h.deps.Joins == nil {
		return
	}
	name, first, ok := h.deps.Joins.Detect(text)
	if !ok || h.isSelf(name) {
		return
	}
	var err error
	if first {
		err = h.deps.Commands.UserEnter(ctx, name)
	} else {
		err = h.deps.Commands.UserReturn(ctx, name)
	}
	if err != nil {
		h.cfg.Logger.Warn("host: join hook failed", "user", name, "first", first, "error", err)
	}
}

func (h *Host) dispatch(ctx context.Context, inv command.Invocation, rep *CycleReport) error {
	out := h.deps.Dispatcher.Dispatch(ctx, inv)
	if errors.Is(out.Err, command.ErrDuplicate) {
		return nil
	}
	rep.Dispatched++
	if device.IsCrash(out.Err) {
		return out.Err
	}
	return nil
}

// carryRemaining parses the entries a crash left unprocessed so their
// commands run after the reset. Plain lines are still observed.
func (h *Host) carryRemaining(entries []device.Entry) {
	for _, e := range entries {
		inv, err := h.deps.Dispatcher.Parse(e.Text)
		if err != nil || h.isSelf(inv.Originator) {
			continue
		}
		h.carry = append(h.carry, inv)
	}
}

func (h *Host) isSelf(name string) bool {
	return h.cfg.Self != "" && name == h.cfg.Self
}

// resetBackend waits out the backoff, then resets the backend. It reports
// whether the reset succeeded.
func (h *Host) resetBackend(ctx context.Context) bool {
	h.resetAttempt++
	wait := backoff(h.resetAttempt, h.cfg.ResetBackoff, h.cfg.ResetBackoffMax)
	h.cfg.Logger.Warn("host: backend crashed, resetting", "attempt", h.resetAttempt, "backoff", wait)
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
	err := h.deps.Backend.Reset(ctx)
	if h.deps.Events != nil {
		ev := observability.Event{
			Type: observability.EventBackend, Component: "host", Subject: "backend",
			Action: "reset", Success: err == nil,
			Details: map[string]any{"attempt": h.resetAttempt},
		}
		if err != nil {
			ev.Details["error"] = err.Error()
		}
		h.deps.Events.Log(ctx, ev)
	}
	if err != nil {
		h.cfg.Logger.Error("host: backend reset failed", "attempt", h.resetAttempt, "error", err)
		return false
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.Count(observability.MetricBackendResets, 1)
	}
	h.cfg.Logger.Info("host: backend reset", "attempt", h.resetAttempt)
	return true
}

func (h *Host) measure(rep CycleReport, before, after stream.Stats) {
	m := h.deps.Metrics
	if m == nil {
		return
	}
	gaps := int(after.Gaps - before.Gaps)
	failed := int(after.GapFailures - before.GapFailures)
	m.Duration(observability.MetricCycleDurationMs, rep.Duration)
	counts := []struct {
		name string
		n    int
	}{
		{observability.MetricEntriesDelivered, rep.Delivered},
		{observability.MetricCommandsHandled, rep.Dispatched},
		{observability.MetricGapsRecovered, gaps - failed},
		{observability.MetricGapsFailed, failed},
		{observability.MetricRecoveryActions, boolInt(rep.Recovery.Performed)},
	}
	for _, c := range counts {
		if c.n > 0 {
			m.Count(c.name, c.n)
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
