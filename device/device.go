// Package device describes the UI automation surface partyhost drives: the
// chat message list, element lookup and clicks, UI-tree snapshots, and
// backend lifecycle.
//
// Backend is the complete capability set of one automation backend. Each
// consumer (stream, recovery, trigger, command handlers) declares only the
// subset it calls, so tests can hand in small fakes. Backend implementations
// are not safe for concurrent interactive use; the host loop is their only
// caller.
package device

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/partyhost/uitree"
)

var (
	// ErrProviderUnavailable: the message list cannot be read right now
	// (loading state, zero containers). Transient.
	ErrProviderUnavailable = errors.New("device: message list unavailable")

	// ErrBackendCrashed: the automation backend process or its connection
	// is gone. Only Reset can bring it back.
	ErrBackendCrashed = errors.New("device: automation backend crashed")

	// ErrParse: a snapshot was obtained but cannot be parsed.
	ErrParse = uitree.ErrParse
)

// Entry is one visible chat line. Identity is a per-snapshot handle and is
// never stable across reads; Text is the canonical identity of the line.
type Entry struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

// Direction is a scroll direction in the message list.
type Direction int

const (
	Older Direction = iota // toward the top of the history
	Newer                  // toward the bottom
)

func (d Direction) String() string {
	if d == Older {
		return "older"
	}
	return "newer"
}

// Side is a screen edge used to dismiss drawer-style overlays.
type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideTop    Side = "top"
	SideBottom Side = "bottom"
)

// Handle is a live reference to an element: the key it was found by and
// its position among the matches at lookup time. Acting on a handle always
// re-resolves it against the live UI.
type Handle struct {
	Key   uitree.Key
	Index int
	Text  string
}

// Messages reads the visible message list.
type Messages interface {
	// VisibleMessages returns the visible entries, top (oldest) first.
	// Zero containers is ErrProviderUnavailable, never an empty success.
	VisibleMessages(ctx context.Context) ([]Entry, error)
	// Scroll moves the list one step and reports whether a gesture was
	// actually issued.
	Scroll(ctx context.Context, dir Direction) (bool, error)
}

// Locator finds and clicks live elements.
type Locator interface {
	Locate(ctx context.Context, key uitree.Key) (Handle, bool, error)
	Click(ctx context.Context, h Handle) (bool, error)
	WaitClickable(ctx context.Context, key uitree.Key, timeout time.Duration) (Handle, bool, error)
}

// Snapshotter captures one full UI-tree snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*uitree.Tree, error)
}

// Poster writes a line into the chat.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Backend is the full automation surface.
type Backend interface {
	Messages
	Locator
	Snapshotter
	Poster
	TapEdge(ctx context.Context, side Side) error
	// Reset reinitializes the backend after ErrBackendCrashed.
	Reset(ctx context.Context) error
	Close() error
}

// IsCrash reports whether err means the backend connection is gone, either
// as ErrBackendCrashed or as a raw transport failure.
func IsCrash(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendCrashed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "session closed") ||
		strings.Contains(msg, "eof")
}
