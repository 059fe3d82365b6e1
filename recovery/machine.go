package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/uitree"
)

// ErrUnknownAnomaly is returned when the screen is neither normal nor a
// recognised anomaly. The host counts it toward its restart budget.
var ErrUnknownAnomaly = errors.New("recovery: unknown UI state")

// Action is the corrective step a Step performed.
type Action string

const (
	ActionNone        Action = "none"
	ActionDismissRisk Action = "dismiss_risk"
	ActionClose       Action = "close"
	ActionTapEdge     Action = "tap_edge"
	ActionSituation   Action = "situation"
)

// Skip reasons.
const (
	SkipSessionOpen = "session_open"
	SkipCooldown    = "cooldown"
)

// Backend is the part of the device recovery acts through.
type Backend interface {
	device.Locator
	TapEdge(ctx context.Context, side device.Side) error
}

// EventSink records recovery actions.
type EventSink interface {
	Log(ctx context.Context, ev observability.Event)
}

// Config wires a Machine.
type Config struct {
	Rules   Rules
	Backend Backend
	Gate    *session.Gate

	// Cooldown is the minimum interval between two actions. Forced steps
	// ignore it. Default 5s.
	Cooldown time.Duration

	Events EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Outcome reports one Step.
type Outcome struct {
	Assessment Assessment `json:"assessment"`
	Action     Action     `json:"action"`
	// Performed is false when the target vanished before it could be
	// clicked.
	Performed bool      `json:"performed"`
	Skipped   string    `json:"skipped,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	At        time.Time `json:"at"`
}

// Machine is the recovery state machine. Step is called by the host loop
// only; Force may be called from any goroutine.
type Machine struct {
	cfg    Config
	forced atomic.Bool

	mu         sync.Mutex
	lastAction time.Time
	last       Outcome
}

// New creates a Machine.
func New(cfg Config) (*Machine, error) {
	cfg.defaults()
	if cfg.Backend == nil || cfg.Gate == nil {
		return nil, errors.New("recovery: machine needs a backend and a session gate")
	}
	if cfg.Rules.Marker.IsZero() {
		return nil, errors.New("recovery: rules need a normal-state marker")
	}
	return &Machine{cfg: cfg}, nil
}

// Force requests a step that bypasses the cooldown on the next cycle.
func (m *Machine) Force() { m.forced.Store(true) }

// ForcePending reports whether a forced step is waiting.
func (m *Machine) ForcePending() bool { return m.forced.Load() }

// Last returns the outcome of the previous Step.
func (m *Machine) Last() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Step classifies tree and performs at most one corrective action. It is
// skipped entirely while another UI session is open; a pending Force
// survives such a skip.
func (m *Machine) Step(ctx context.Context, tree *uitree.Tree, force bool) (Outcome, error) {
	now := m.cfg.Now()
	out := Outcome{Action: ActionNone, At: now}

	sess, err := m.cfg.Gate.TryAcquire("recovery")
	if err != nil {
		out.Skipped = SkipSessionOpen
		m.remember(out)
		return out, nil
	}
	defer sess.Close()

	force = m.forced.Swap(false) || force
	out.Forced = force
	out.Assessment = Classify(tree, m.cfg.Rules)

	switch out.Assessment.State {
	case StateNormal:
		m.remember(out)
		return out, nil
	case StateUnknown:
		m.remember(out)
		m.cfg.Logger.Warn("recovery: unknown UI state", "forced", force)
		m.record(ctx, out, ErrUnknownAnomaly)
		return out, ErrUnknownAnomaly
	}

	m.mu.Lock()
	cooling := !m.lastAction.IsZero() && now.Sub(m.lastAction) < m.cfg.Cooldown
	m.mu.Unlock()
	if cooling && !force {
		out.Skipped = SkipCooldown
		m.remember(out)
		return out, nil
	}

	out.Action, out.Performed, err = m.act(ctx, out.Assessment)
	m.mu.Lock()
	m.lastAction = now
	m.mu.Unlock()
	m.remember(out)
	m.record(ctx, out, err)
	if err != nil {
		return out, fmt.Errorf("recovery: %s: %w", out.Action, err)
	}
	m.cfg.Logger.Info("recovery: action",
		"state", out.Assessment.State, "action", out.Action, "key", out.Assessment.Key.String(),
		"performed", out.Performed, "forced", force)
	return out, nil
}

// act performs the single action for a. Clicks always look the element up
// again on the live backend.
func (m *Machine) act(ctx context.Context, a Assessment) (Action, bool, error) {
	var action Action
	switch a.State {
	case StateRiskPresent:
		action = ActionDismissRisk
	case StateBlockedCloseable:
		action = ActionClose
	case StateBlockedDrawer:
		return ActionTapEdge, true, m.cfg.Backend.TapEdge(ctx, a.Side)
	case StateBlockedOther:
		action = ActionSituation
	default:
		return ActionNone, false, nil
	}
	h, ok, err := m.cfg.Backend.Locate(ctx, a.Key)
	if err != nil || !ok {
		return action, false, err
	}
	clicked, err := m.cfg.Backend.Click(ctx, h)
	return action, clicked, err
}

func (m *Machine) remember(out Outcome) {
	m.mu.Lock()
	m.last = out
	m.mu.Unlock()
}

func (m *Machine) record(ctx context.Context, out Outcome, err error) {
	if m.cfg.Events == nil {
		return
	}
	details := map[string]any{
		"state":     string(out.Assessment.State),
		"key":       out.Assessment.Key.String(),
		"performed": out.Performed,
		"forced":    out.Forced,
	}
	if out.Assessment.Situation != "" {
		details["situation"] = out.Assessment.Situation
	}
	if out.Assessment.Side != "" {
		details["side"] = string(out.Assessment.Side)
	}
	if err != nil {
		details["error"] = err.Error()
	}
	m.cfg.Events.Log(ctx, observability.Event{
		Type:      observability.EventRecovery,
		Component: "recovery",
		Subject:   string(out.Assessment.State),
		Actor:     "host",
		Action:    string(out.Action),
		Details:   details,
		Success:   err == nil,
	})
}
