// Package stream turns overlapping, partially visible snapshots of a chat
// list into an ordered, duplicate-free stream of new messages.
//
// Each Poll reads the visible slice. When its top entry is still in the
// recent window, new entries are those below the last run of texts seen
// that the window does not hold. Otherwise messages scrolled past unseen:
// the reconciler scrolls back until that run lines up again, then sweeps
// forward collecting everything it has not processed yet.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/partyhost/device"
)

// ErrGapUnrecoverable is returned when a gap could not be closed within
// the scroll bounds. Entries returned alongside it are a best-effort
// partial delivery.
var ErrGapUnrecoverable = errors.New("stream: gap unrecoverable")

// Source is the part of the device the reconciler reads.
type Source interface {
	VisibleMessages(ctx context.Context) ([]device.Entry, error)
	Scroll(ctx context.Context, dir device.Direction) (bool, error)
}

// Stats counts what the reconciler has done since construction.
type Stats struct {
	Polls       uint64 `json:"polls"`
	Delivered   uint64 `json:"delivered"`
	Gaps        uint64 `json:"gaps"`
	GapFailures uint64 `json:"gap_failures"`
	Unavailable uint64 `json:"unavailable"`
}

// Reconciler is driven by the host loop only. Not safe for concurrent use.
type Reconciler struct {
	src         Source
	window      *Window
	maxScroll   int
	stableLimit int
	backlog     bool
	logger      *slog.Logger
	stats       Stats

	// trail is the newest run of chat texts as last seen, repeats
	// included. Its last element is the backfill anchor.
	trail []string
	// parked is set while the view may still be scrolled away from the
	// newest entries.
	parked bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCapacity sets the recent window capacity. Default 3.
func WithCapacity(n int) Option {
	return func(r *Reconciler) { r.window = NewWindow(n) }
}

// WithWindow seeds the recent window with previously processed texts, as
// restored from a checkpoint. Apply after WithCapacity.
func WithWindow(texts []string) Option {
	return func(r *Reconciler) { r.window.Replace(texts) }
}

// WithMaxScroll bounds the scroll gestures of each backfill phase.
// Default 10.
func WithMaxScroll(n int) Option { return func(r *Reconciler) { r.maxScroll = n } }

// WithStableLimit sets how many consecutive unchanged snapshots abort a
// backfill phase. Default 3.
func WithStableLimit(n int) Option { return func(r *Reconciler) { r.stableLimit = n } }

// WithBacklog controls the first poll on an empty window: true delivers
// everything visible, false only records it.
func WithBacklog(deliver bool) Option { return func(r *Reconciler) { r.backlog = deliver } }

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// New creates a Reconciler reading from src.
func New(src Source, opts ...Option) *Reconciler {
	r := &Reconciler{
		src:         src,
		window:      NewWindow(3),
		maxScroll:   10,
		stableLimit: 3,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.maxScroll < 1 {
		r.maxScroll = 1
	}
	if r.stableLimit < 1 {
		r.stableLimit = 1
	}
	r.trail = r.window.Items()
	return r
}

// Window exposes the recent window, for checkpointing.
func (r *Reconciler) Window() *Window { return r.window }

// Stats returns a copy of the counters.
func (r *Reconciler) Stats() Stats { return r.stats }

// Poll reads the chat once and returns the entries not delivered before,
// in chat order. "Nothing new" is an empty slice with a nil error; an
// unreadable list is device.ErrProviderUnavailable (or the backend error).
func (r *Reconciler) Poll(ctx context.Context) ([]device.Entry, error) {
	r.stats.Polls++
	if r.parked {
		r.settle(ctx)
	}
	visible, err := r.read(ctx)
	if err != nil {
		return nil, err
	}

	var out []device.Entry
	switch {
	case r.window.Len() == 0:
		out = r.coldStart(visible)
	case r.window.Contains(visible[0].Text):
		out = r.noGap(visible)
	default:
		out, err = r.backfill(ctx, visible)
	}
	r.stats.Delivered += uint64(len(out))
	return out, err
}

func (r *Reconciler) read(ctx context.Context) ([]device.Entry, error) {
	visible, err := r.src.VisibleMessages(ctx)
	if err == nil && len(visible) == 0 {
		err = device.ErrProviderUnavailable
	}
	if err != nil {
		if errors.Is(err, device.ErrProviderUnavailable) {
			r.stats.Unavailable++
		}
		return nil, fmt.Errorf("stream: read: %w", err)
	}
	return visible, nil
}

func (r *Reconciler) coldStart(visible []device.Entry) []device.Entry {
	fresh := r.unknown(visible)
	r.accept(fresh, visible)
	if !r.backlog {
		r.logger.Info("stream: window seeded", "entries", len(fresh))
		return nil
	}
	return fresh
}

// noGap delivers the visible entries the window does not hold. Entries
// at or above the position where the trail lines up were accounted for by
// an earlier poll, even when their text has left the window.
func (r *Reconciler) noGap(visible []device.Entry) []device.Entry {
	from := 0
	if at, _ := r.anchor(visible); at >= 0 {
		from = at + 1
	}
	fresh := r.unknown(visible[from:])
	r.accept(fresh, visible)
	return fresh
}

// backfill closes a gap: phase A scrolls older until the trail lines up,
// phase B sweeps newer until the first snapshot's newest entry shows.
// Every exit that may leave the view scrolled away puts it back.
func (r *Reconciler) backfill(ctx context.Context, first []device.Entry) ([]device.Entry, error) {
	newest := first[len(first)-1].Text

	// Phase A.
	cur := first
	scrolls, stable := 0, 0
	at, complete := r.anchor(cur)
	if !complete {
		r.stats.Gaps++
		r.logger.Warn("stream: gap detected", "anchor", r.trail[len(r.trail)-1], "top", first[0].Text)
	}
	for !complete {
		if scrolls >= r.maxScroll || stable >= r.stableLimit {
			if at >= 0 {
				break
			}
			return r.anchorLost(ctx, first, scrolls)
		}
		if err := ctx.Err(); err != nil {
			return nil, r.abort(ctx, err)
		}
		moved, err := r.src.Scroll(ctx, device.Older)
		scrolls++
		if err != nil {
			return nil, r.abort(ctx, fmt.Errorf("stream: scroll older: %w", err))
		}
		next, err := r.read(ctx)
		if err != nil {
			return nil, r.abort(ctx, err)
		}
		if !moved || sameTexts(next, cur) {
			stable++
		} else {
			stable = 0
		}
		cur = next
		at, complete = r.anchor(cur)
		// Top of the history: the run cannot be cut by the view.
		if at >= 0 && !moved {
			break
		}
	}

	// Phase B.
	seen := make(map[string]bool)
	fresh := cur[at+1:]
	out := r.collect(nil, seen, fresh, 0)
	reached := scrolls == 0 || containsText(fresh, newest)

	stable = 0
	for step := 1; !reached; step++ {
		if step > r.maxScroll || stable >= r.stableLimit {
			r.accept(out, cur)
			r.stats.GapFailures++
			r.logger.Warn("stream: forward sweep incomplete", "delivered", len(out), "newest", newest)
			return out, r.abort(ctx, fmt.Errorf("%w: newest entry %q not reached", ErrGapUnrecoverable, newest))
		}
		if err := ctx.Err(); err != nil {
			r.accept(out, cur)
			return out, r.abort(ctx, err)
		}
		moved, err := r.src.Scroll(ctx, device.Newer)
		if err != nil {
			r.accept(out, cur)
			return out, r.abort(ctx, fmt.Errorf("stream: scroll newer: %w", err))
		}
		next, err := r.read(ctx)
		if err != nil {
			r.accept(out, cur)
			return out, r.abort(ctx, err)
		}
		if !moved || sameTexts(next, cur) {
			stable++
		} else {
			stable = 0
		}
		// Entries shared with the previous snapshot are already handled.
		fresh = next[overlap(cur, next):]
		cur = next
		out = r.collect(out, seen, fresh, step)
		if containsText(fresh, newest) {
			reached = true
			r.logger.Info("stream: gap closed", "delivered", len(out), "steps", step)
		}
	}
	r.accept(out, cur)
	if scrolls > 0 {
		r.settle(ctx)
	}
	return out, nil
}

// anchorLost gives up on the anchor. The view goes back toward the newest
// entries, the entries of the first snapshot are delivered best effort,
// and the window is re-anchored on them so the next poll progresses.
func (r *Reconciler) anchorLost(ctx context.Context, first []device.Entry, scrolls int) ([]device.Entry, error) {
	r.settle(ctx)
	out := r.unknown(first)
	r.accept(out, first)
	r.stats.GapFailures++
	r.logger.Warn("stream: anchor not found", "scrolls", scrolls, "delivered", len(out))
	return out, fmt.Errorf("%w: anchor not found after %d scrolls", ErrGapUnrecoverable, scrolls)
}

// abort returns the view to the newest entries before reporting err, so a
// transient failure only delays delivery.
func (r *Reconciler) abort(ctx context.Context, err error) error {
	r.settle(ctx)
	return err
}

// settle scrolls toward newer entries until the view stops moving. It
// runs on a context of its own because it also follows cancellations; a
// view it cannot settle is retried at the start of the next poll.
func (r *Reconciler) settle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for range 2*r.maxScroll + 1 {
		moved, err := r.src.Scroll(ctx, device.Newer)
		if err != nil {
			r.parked = true
			r.logger.Warn("stream: view not returned to newest", "error", err)
			return
		}
		if !moved {
			r.parked = false
			return
		}
	}
	r.parked = true
}

// anchor lines the trail up with cur. It returns the index of the oldest
// entry ending a complete run of the trail, or failing that the oldest run
// cut short by the top of the view (complete false), or -1.
func (r *Reconciler) anchor(cur []device.Entry) (at int, complete bool) {
	n := len(r.trail)
	at = -1
	if n == 0 {
		return at, false
	}
	for i := range cur {
		k := 0
		for k < n && k <= i && cur[i-k].Text == r.trail[n-1-k] {
			k++
		}
		switch {
		case k == n:
			return i, true
		case k == i+1 && at < 0:
			at = i
		}
	}
	return at, false
}

// collect appends the entries that are neither in the window nor already
// collected, tagging identities with the scroll step.
func (r *Reconciler) collect(out []device.Entry, seen map[string]bool, entries []device.Entry, step int) []device.Entry {
	for _, e := range entries {
		if seen[e.Text] || r.window.Contains(e.Text) {
			continue
		}
		seen[e.Text] = true
		out = append(out, device.Entry{Identity: fmt.Sprintf("%s#%d", e.Identity, step), Text: e.Text})
	}
	return out
}

// unknown returns the entries whose text is neither in the window nor
// repeated earlier in the same batch.
func (r *Reconciler) unknown(entries []device.Entry) []device.Entry {
	var out []device.Entry
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.Text] || r.window.Contains(e.Text) {
			continue
		}
		seen[e.Text] = true
		out = append(out, e)
	}
	return out
}

// accept records delivered entries in the window and remembers the tail
// of view, the last snapshot read, as the trail.
func (r *Reconciler) accept(delivered, view []device.Entry) {
	for _, e := range delivered {
		r.window.Push(e.Text)
	}
	n := min(len(view), r.window.Cap())
	if n == 0 {
		return
	}
	r.trail = r.trail[:0]
	for _, e := range view[len(view)-n:] {
		r.trail = append(r.trail, e.Text)
	}
}

// overlap returns how many leading entries of next repeat the last
// entries of prev.
func overlap(prev, next []device.Entry) int {
	for k := min(len(prev), len(next)); k > 0; k-- {
		if sameTexts(prev[len(prev)-k:], next[:k]) {
			return k
		}
	}
	return 0
}

func containsText(entries []device.Entry, text string) bool {
	return slices.ContainsFunc(entries, func(e device.Entry) bool { return e.Text == text })
}

func sameTexts(a, b []device.Entry) bool {
	return slices.EqualFunc(a, b, func(x, y device.Entry) bool { return x.Text == y.Text })
}
