package host

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/recovery"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/stream"
)

// Status is a point-in-time view of the host for operators.
type Status struct {
	Cycle         uint64           `json:"cycle"`
	LastCycle     time.Time        `json:"last_cycle,omitzero"`
	LastDuration  string           `json:"last_duration,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Stream        stream.Stats     `json:"stream"`
	Window        []string         `json:"window"`
	Session       *session.Info    `json:"session,omitempty"`
	Queue         int              `json:"queue"`
	Recovery      recovery.Outcome `json:"recovery"`
	ForcePending  bool             `json:"force_pending"`
	Budget        BudgetState      `json:"budget"`
	BackendResets int              `json:"backend_resets"`
	Commands      []command.Usage  `json:"commands"`
}

// Status returns the current status. Stream figures are those recorded at
// the end of the last cycle.
func (h *Host) Status() Status {
	h.mu.Lock()
	last, resets := h.last, h.resets
	h.mu.Unlock()

	st := Status{
		Cycle:         h.Cycle(),
		LastCycle:     last.Started,
		Queue:         h.deps.Queue.Len(),
		Recovery:      h.deps.Recovery.Last(),
		ForcePending:  h.deps.Recovery.ForcePending(),
		Budget:        h.budget.State(),
		BackendResets: resets,
		Commands:      h.deps.Commands.Usages(),
	}
	if last.Cycle > 0 {
		st.LastDuration = last.Duration.String()
	}
	if last.Err != nil {
		st.LastError = last.Err.Error()
	}
	if info, ok := h.deps.Gate.Active(); ok {
		st.Session = &info
	}
	h.mu.Lock()
	st.Stream, st.Window = h.stats, h.window
	h.mu.Unlock()
	return st
}

// ForceRecovery asks for a recovery step that ignores the cooldown on the
// next cycle.
func (h *Host) ForceRecovery() {
	h.deps.Recovery.Force()
	h.cfg.Logger.Info("host: recovery forced by operator")
}

// InjectRequest queues a command line as if typed in the chat.
type InjectRequest struct {
	Line       string `json:"line" jsonschema:"command line including the sigil, e.g. :say hello"`
	Originator string `json:"originator,omitempty" jsonschema:"user the reply is addressed to"`
}

// InjectResponse acknowledges an injected command.
type InjectResponse struct {
	Queued string `json:"queued"`
	Name   string `json:"name"`
	Queue  int    `json:"queue"`
}

// ErrBadRequest marks operator input that cannot be queued.
var ErrBadRequest = errors.New("host: bad request")

// Inject parses line with the host's syntax and queues it for the next
// cycle. Unknown commands are refused here rather than answered in chat.
func (h *Host) Inject(req InjectRequest) (InjectResponse, error) {
	inv, err := command.Parse(strings.TrimSpace(req.Line), h.deps.Dispatcher.Syntax())
	if err != nil {
		return InjectResponse{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !h.deps.Commands.Has(inv.Name) {
		return InjectResponse{}, fmt.Errorf("%w: %w %q", ErrBadRequest, command.ErrUnknownCommand, inv.Name)
	}
	if req.Originator != "" {
		inv.Originator = req.Originator
	}
	if inv.Originator == "" {
		inv.Originator = "operator"
	}
	inv.Synthetic = true
	if err := h.deps.Queue.Push(inv); err != nil {
		return InjectResponse{}, err
	}
	h.cfg.Logger.Info("host: command injected", "command", inv.Name, "originator", inv.Originator)
	return InjectResponse{Queued: inv.Raw, Name: inv.Name, Queue: h.deps.Queue.Len()}, nil
}
