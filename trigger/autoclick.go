package trigger

import (
	"context"
	"errors"
	"log/slog"
)

// AutoClick clicks every element it is handed, e.g. an "accept" button
// that pops up on its own.
func AutoClick(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		var errs []error
		for _, el := range ev.Elements {
			clicked, err := el.Click(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			logger.Debug("trigger: auto-click", "key", ev.Key.String(), "index", el.Index(), "clicked", clicked)
		}
		return errors.Join(errs...)
	})
}
