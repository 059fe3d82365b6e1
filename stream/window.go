package stream

// Window is the bounded, insertion-ordered record of the most recently
// delivered message texts, used as the dedup filter and persisted in
// checkpoints. Not safe for concurrent use.
type Window struct {
	items []string
	cap   int
}

// NewWindow creates a window holding at most capacity texts (minimum 1).
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{items: make([]string, 0, capacity), cap: capacity}
}

// Push appends texts in order, evicting the oldest on overflow.
func (w *Window) Push(texts ...string) {
	for _, t := range texts {
		if len(w.items) == w.cap {
			copy(w.items, w.items[1:])
			w.items = w.items[:w.cap-1]
		}
		w.items = append(w.items, t)
	}
}

// Contains reports whether text is in the window.
func (w *Window) Contains(text string) bool {
	for _, it := range w.items {
		if it == text {
			return true
		}
	}
	return false
}

// Last returns the newest text.
func (w *Window) Last() (string, bool) {
	if len(w.items) == 0 {
		return "", false
	}
	return w.items[len(w.items)-1], true
}

// Items returns a copy of the window contents, oldest first.
func (w *Window) Items() []string {
	return append([]string(nil), w.items...)
}

// Replace discards the contents and pushes texts.
func (w *Window) Replace(texts []string) {
	w.items = w.items[:0]
	w.Push(texts...)
}

func (w *Window) Len() int { return len(w.items) }
func (w *Window) Cap() int { return w.cap }
