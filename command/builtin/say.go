package builtin

import (
	"context"
	"strings"

	"github.com/hazyhaar/partyhost/command"
)

// Say echoes its parameters back to the chat.
type Say struct{}

func (Say) Process(_ context.Context, inv command.Invocation) (command.Result, error) {
	text := strings.TrimSpace(strings.Join(inv.Params(), " "))
	if text == "" {
		return command.Errorf("nothing to say"), nil
	}
	return command.Result{"text": text}, nil
}
