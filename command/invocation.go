// Package command turns chat lines into handler executions.
//
// A line such as "alice: :vol 5" is parsed into an Invocation, resolved
// against a static Registry, and run by the Dispatcher inside a UI session
// so no other component can act on the screen while the handler works.
// The handler's Result is rendered through a text/template and posted back
// to the chat, addressed to the originator.
package command

import (
	"fmt"
	"strings"
)

// Invocation is one parsed command. It is a value type; Params returns a
// copy so an invocation cannot be altered after parsing.
type Invocation struct {
	ID         string
	Name       string
	Originator string
	Raw        string
	// Synthetic marks invocations injected by schedules, keywords, hooks
	// or the operator rather than typed in the chat.
	Synthetic bool

	params []string
}

// NewInvocation builds an invocation programmatically.
func NewInvocation(name, originator string, params ...string) Invocation {
	inv := Invocation{
		Name:       strings.ToLower(name),
		Originator: originator,
		params:     append([]string(nil), params...),
	}
	inv.Raw = inv.String()
	return inv
}

// Params returns a copy of the positional parameters.
func (inv Invocation) Params() []string {
	return append([]string(nil), inv.params...)
}

// Param returns parameter i, or "" when absent.
func (inv Invocation) Param(i int) string {
	if i < 0 || i >= len(inv.params) {
		return ""
	}
	return inv.params[i]
}

// NumParams returns the number of parameters.
func (inv Invocation) NumParams() int { return len(inv.params) }

// String renders the invocation back to a command line, quoting
// parameters that need it.
func (inv Invocation) String() string {
	var sb strings.Builder
	sb.WriteString(":" + inv.Name)
	for _, p := range inv.params {
		sb.WriteByte(' ')
		if p == "" || strings.ContainsAny(p, " \t\"'\\") {
			fmt.Fprintf(&sb, "%q", p)
		} else {
			sb.WriteString(p)
		}
	}
	return sb.String()
}
