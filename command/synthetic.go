package command

import (
	"fmt"
	"strings"
	"time"
)

// Schedule fires a command line at a fixed interval.
type Schedule struct {
	Every time.Duration `yaml:"every"`
	Line  string        `yaml:"command"`
}

// Keyword fires a command line when a chat line contains a phrase.
type Keyword struct {
	Contains string `yaml:"contains"`
	Line     string `yaml:"command"`
}

type scheduled struct {
	every time.Duration
	inv   Invocation
	next  time.Time
}

// Scheduler turns Schedules into due invocations. It is driven by the
// host loop only.
type Scheduler struct {
	entries []*scheduled
}

// NewScheduler parses every schedule line. The first firing of each is
// one interval after now.
func NewScheduler(syn Syntax, now time.Time, schedules ...Schedule) (*Scheduler, error) {
	s := &Scheduler{}
	for _, sc := range schedules {
		if sc.Every <= 0 {
			return nil, fmt.Errorf("command: schedule %q: interval must be positive", sc.Line)
		}
		inv, err := Parse(sc.Line, syn)
		if err != nil {
			return nil, fmt.Errorf("command: schedule %q: %w", sc.Line, err)
		}
		s.entries = append(s.entries, &scheduled{every: sc.Every, inv: inv, next: now.Add(sc.Every)})
	}
	return s, nil
}

// Due returns the invocations whose time has come. A schedule that fell
// several intervals behind fires once and is re-armed from now.
func (s *Scheduler) Due(now time.Time) []Invocation {
	var out []Invocation
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		out = append(out, e.inv)
		e.next = e.next.Add(e.every)
		if !e.next.After(now) {
			e.next = now.Add(e.every)
		}
	}
	return out
}

type keyword struct {
	phrase string
	inv    Invocation
}

// KeywordMatcher maps chat phrases to command lines.
type KeywordMatcher struct {
	syn      Syntax
	keywords []keyword
}

// NewKeywordMatcher parses every keyword line.
func NewKeywordMatcher(syn Syntax, keywords ...Keyword) (*KeywordMatcher, error) {
	km := &KeywordMatcher{syn: syn}
	for _, k := range keywords {
		if strings.TrimSpace(k.Contains) == "" {
			return nil, fmt.Errorf("command: keyword for %q has an empty phrase", k.Line)
		}
		inv, err := Parse(k.Line, syn)
		if err != nil {
			return nil, fmt.Errorf("command: keyword %q: %w", k.Contains, err)
		}
		km.keywords = append(km.keywords, keyword{phrase: strings.ToLower(k.Contains), inv: inv})
	}
	return km, nil
}

// Match returns the invocations triggered by a chat line, attributed to
// the line's author when the line has one.
func (km *KeywordMatcher) Match(text string) []Invocation {
	body := text
	author := ""
	if km.syn.SenderSep != "" {
		if who, rest, ok := strings.Cut(text, km.syn.SenderSep); ok {
			author, body = strings.TrimSpace(who), rest
		}
	}
	lower := strings.ToLower(body)
	var out []Invocation
	for _, k := range km.keywords {
		if strings.Contains(lower, k.phrase) {
			inv := k.inv
			inv.Originator = author
			out = append(out, inv)
		}
	}
	return out
}
