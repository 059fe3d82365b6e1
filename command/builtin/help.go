package builtin

import (
	"context"
	"strings"

	"github.com/hazyhaar/partyhost/command"
)

// Help lists the commands, or shows the usage of one.
type Help struct {
	Usages func() []command.Usage
}

func (h *Help) Process(_ context.Context, inv command.Invocation) (command.Result, error) {
	var usages []command.Usage
	if h.Usages != nil {
		usages = h.Usages()
	}
	if want := strings.ToLower(strings.TrimPrefix(inv.Param(0), ":")); want != "" {
		for _, u := range usages {
			if u.Name == want {
				return command.Result{"text": u.Usage}, nil
			}
		}
		return command.Errorf("no command named %q", want), nil
	}
	names := make([]string, 0, len(usages))
	for _, u := range usages {
		names = append(names, ":"+u.Name)
	}
	return command.Result{"text": "commands: " + strings.Join(names, " ")}, nil
}
