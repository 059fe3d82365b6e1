package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCommand is returned by Parse for ordinary chat lines.
	ErrNotCommand = errors.New("command: not a command line")

	// ErrDuplicate is returned when an invocation ID was already dispatched.
	ErrDuplicate = errors.New("command: invocation already dispatched")

	// ErrQueueFull is returned when the pending queue is at its limit.
	ErrQueueFull = errors.New("command: pending queue full")

	// ErrUnknownCommand marks an invocation whose name is not registered.
	// The user still gets an error reply.
	ErrUnknownCommand = errors.New("command: unknown command")
)

// ParseError is a malformed command line. Its message is shown to the
// user.
type ParseError struct {
	Input      string
	Originator string
	Pos        int
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Reason, e.Pos)
}

// HandlerError wraps a failure inside a handler: a returned error or a
// recovered panic. It is logged and answered with a generic reply; it
// never stops the host loop.
type HandlerError struct {
	Command string
	Cause   error
	Panic   any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("command: handler %q panicked: %v", e.Command, e.Panic)
	}
	return fmt.Sprintf("command: handler %q failed: %v", e.Command, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }
