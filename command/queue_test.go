package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQueue_PushDrain(t *testing.T) {
	q := NewQueue(2)
	for _, name := range []string{"a", "b"} {
		if err := q.Push(NewInvocation(name, "")); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Push(NewInvocation("c", "")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third push: got %v", err)
	}
	got := q.Drain()
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("drain: %+v", got)
	}
	for _, inv := range got {
		if !inv.Synthetic {
			t.Fatalf("%s: not marked synthetic", inv.Name)
		}
	}
	if q.Len() != 0 || len(q.Drain()) != 0 {
		t.Fatal("queue not empty after drain")
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		text  string
		limit int
		want  []string
	}{
		{"short", 10, []string{"short"}},
		{"anything", 0, []string{"anything"}},
		{"aaaa bbbb cccc", 9, []string{"aaaa bbbb", "cccc"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		got := splitText(tt.text, tt.limit)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("splitText(%q, %d): got %q, want %q", tt.text, tt.limit, got, tt.want)
		}
	}
}

func TestRateLimitedPoster(t *testing.T) {
	rec := &recorder{}
	p := NewRateLimitedPoster(rec, 1000, 1, 9)
	if err := p.Post(context.Background(), "aaaa bbbb cccc"); err != nil {
		t.Fatal(err)
	}
	if got := rec.all(); len(got) != 2 || got[1] != "post:cccc" {
		t.Fatalf("posts: %v", got)
	}

	slow := NewRateLimitedPoster(rec, 0.001, 1, 0)
	if err := slow.Post(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := slow.Post(ctx, "second"); err == nil {
		t.Fatal("expected the limiter to give up on a cancelled context")
	}
}

func TestJoinDetector(t *testing.T) {
	j, err := NewJoinDetector(`^(?P<name>\w+) joined the party$`)
	if err != nil {
		t.Fatal(err)
	}
	if name, first, ok := j.Detect("alice joined the party"); !ok || !first || name != "alice" {
		t.Fatalf("first join: %q %v %v", name, first, ok)
	}
	if _, first, ok := j.Detect("alice joined the party"); !ok || first {
		t.Fatalf("return: first=%v ok=%v", first, ok)
	}
	if _, _, ok := j.Detect("alice: hi"); ok {
		t.Fatal("plain chat line detected as join")
	}
	if _, err := NewJoinDetector(`joined`); err == nil {
		t.Fatal("pattern without group accepted")
	}
}

func TestScheduler_Due(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	s, err := NewScheduler(DefaultSyntax(), t0, Schedule{Every: 10 * time.Second, Line: ":say tick"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Due(t0.Add(5 * time.Second)); len(got) != 0 {
		t.Fatalf("early: %v", got)
	}
	if got := s.Due(t0.Add(10 * time.Second)); len(got) != 1 || got[0].Name != "say" || got[0].Param(0) != "tick" {
		t.Fatalf("on time: %+v", got)
	}
	// Far behind: fires once and re-arms from now.
	if got := s.Due(t0.Add(65 * time.Second)); len(got) != 1 {
		t.Fatalf("behind: %d", len(got))
	}
	if got := s.Due(t0.Add(70 * time.Second)); len(got) != 0 {
		t.Fatalf("after catch-up: %d", len(got))
	}
	if got := s.Due(t0.Add(75 * time.Second)); len(got) != 1 {
		t.Fatalf("re-armed: %d", len(got))
	}

	if _, err := NewScheduler(DefaultSyntax(), t0, Schedule{Every: 0, Line: ":say x"}); err == nil {
		t.Fatal("zero interval accepted")
	}
	if _, err := NewScheduler(DefaultSyntax(), t0, Schedule{Every: time.Second, Line: "say x"}); err == nil {
		t.Fatal("non-command line accepted")
	}
}

func TestKeywordMatcher(t *testing.T) {
	km, err := NewKeywordMatcher(DefaultSyntax(), Keyword{Contains: "Party Time", Line: ":say woo"})
	if err != nil {
		t.Fatal(err)
	}
	got := km.Match("bob: it's PARTY TIME!")
	if len(got) != 1 || got[0].Name != "say" || got[0].Originator != "bob" {
		t.Fatalf("match: %+v", got)
	}
	if got := km.Match("carol: nothing to see"); len(got) != 0 {
		t.Fatalf("false match: %+v", got)
	}
	if _, err := NewKeywordMatcher(DefaultSyntax(), Keyword{Contains: " ", Line: ":say x"}); err == nil {
		t.Fatal("empty phrase accepted")
	}
}
