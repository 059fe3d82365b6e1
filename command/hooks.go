package command

import (
	"fmt"
	"regexp"
	"sync"
)

// JoinDetector recognises "user joined" chat lines and remembers who was
// already seen, to tell first entries from returns.
type JoinDetector struct {
	re *regexp.Regexp

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewJoinDetector compiles pattern, which must have a named group "name"
// (or at least one capture group, the first being the user name).
func NewJoinDetector(pattern string) (*JoinDetector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("command: join pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("command: join pattern %q has no capture group", pattern)
	}
	return &JoinDetector{re: re, seen: make(map[string]struct{})}, nil
}

// Detect reports whether text is a join line, who joined, and whether it
// is their first join since the process started.
func (j *JoinDetector) Detect(text string) (name string, first, ok bool) {
	m := j.re.FindStringSubmatch(text)
	if m == nil {
		return "", false, false
	}
	idx := j.re.SubexpIndex("name")
	if idx < 0 {
		idx = 1
	}
	name = m[idx]
	if name == "" {
		return "", false, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, known := j.seen[name]
	j.seen[name] = struct{}{}
	return name, !known, true
}
