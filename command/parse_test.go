package command

import (
	"errors"
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	syn := DefaultSyntax()
	tests := []struct {
		line       string
		name       string
		originator string
		params     []string
	}{
		{":vol 5", "vol", "", []string{"5"}},
		{"alice: :vol 5", "vol", "alice", []string{"5"}},
		{"bob: :SAY hello   world", "say", "bob", []string{"hello", "world"}},
		{`carol: :say "hello world" 'it''s' x`, "say", "carol", []string{"hello world", "its", "x"}},
		{`:say "a \"quoted\" word" b\c`, "say", "", []string{`a "quoted" word`, `b\c`}},
		{`:say pre"fix suf"fix`, "say", "", []string{"prefix suffix"}},
		{`:say ""`, "say", "", []string{""}},
		{":help", "help", "", nil},
		{"dave: :play a: b", "play", "dave", []string{"a:", "b"}},
	}
	for _, tt := range tests {
		inv, err := Parse(tt.line, syn)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.line, err)
			continue
		}
		if inv.Name != tt.name || inv.Originator != tt.originator {
			t.Errorf("Parse(%q): got name=%q originator=%q", tt.line, inv.Name, inv.Originator)
		}
		if !slices.Equal(inv.Params(), tt.params) {
			t.Errorf("Parse(%q): params %q, want %q", tt.line, inv.Params(), tt.params)
		}
		if inv.Raw != tt.line {
			t.Errorf("Parse(%q): raw %q", tt.line, inv.Raw)
		}
	}
}

func TestParse_NotCommand(t *testing.T) {
	syn := DefaultSyntax()
	for _, line := range []string{"", "hello", "alice: hi there", ":)", ": vol", "alice: :", "alice: :9lives"} {
		if _, err := Parse(line, syn); !errors.Is(err, ErrNotCommand) {
			t.Errorf("Parse(%q): got %v, want ErrNotCommand", line, err)
		}
	}
}

func TestParse_Unterminated(t *testing.T) {
	_, err := Parse(`alice: :say "oops`, DefaultSyntax())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want *ParseError", err)
	}
	if perr.Originator != "alice" || perr.Pos != 12 {
		t.Fatalf("parse error: %+v", perr)
	}
}

func TestParse_CustomSigils(t *testing.T) {
	syn := Syntax{Sigils: []string{"!", "/"}, SenderSep: " > "}
	inv, err := Parse("eve > /vol 3", syn)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Name != "vol" || inv.Originator != "eve" || inv.Param(0) != "3" {
		t.Fatalf("got %+v", inv)
	}
	if _, err := Parse(":vol 3", syn); !errors.Is(err, ErrNotCommand) {
		t.Fatalf("default sigil must not match: %v", err)
	}
}

func TestInvocation_ParamsAreCopied(t *testing.T) {
	inv := NewInvocation("say", "alice", "a", "b c")
	p := inv.Params()
	p[0] = "mutated"
	if inv.Param(0) != "a" {
		t.Fatal("invocation mutated through Params")
	}
	if inv.Raw != `:say a "b c"` {
		t.Fatalf("raw: got %q", inv.Raw)
	}
	if inv.Param(5) != "" || inv.NumParams() != 2 {
		t.Fatal("param bounds")
	}
}
