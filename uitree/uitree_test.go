package uitree

import (
	"errors"
	"testing"
)

const chatPage = `<html><body>
<div id="toolbar"><span resource-id="com.party:id/volume" text="42"></span></div>
<ul id="messages">
  <li class="msg"><span class="line">alice: hi</span></li>
  <li class="msg" aria-label="bob: :vol 3"><span class="line">ignored</span></li>
  <li class="msg"><span class="line">carol:   spaced   out</span></li>
</ul>
<div class="dialog close-able"><button>Close</button><button>OK</button></div>
<script>var x = "never text";</script>
</body></html>`

func mustParse(t *testing.T, markup string) *Tree {
	t.Helper()
	tree, err := Parse([]byte(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   \n\t"} {
		if _, err := Parse([]byte(in)); !errors.Is(err, ErrParse) {
			t.Fatalf("Parse(%q): got %v, want ErrParse", in, err)
		}
	}
}

func TestFind_ByID(t *testing.T) {
	tree := mustParse(t, chatPage)

	if !tree.Has(Key{ID: "messages"}) {
		t.Fatal("expected #messages")
	}
	vol, ok := tree.First(Key{ID: "volume"})
	if !ok {
		t.Fatal("resource-id suffix match failed")
	}
	if vol.Text() != "42" {
		t.Errorf("text attr: got %q, want 42", vol.Text())
	}
	if vol.ID() != "com.party:id/volume" {
		t.Errorf("ID: got %q", vol.ID())
	}
	if tree.Has(Key{ID: "nope"}) {
		t.Error("unexpected match for missing id")
	}
}

func TestFind_XPath(t *testing.T) {
	tree := mustParse(t, chatPage)

	tests := []struct {
		xpath string
		want  int
	}{
		{"//li", 3},
		{"//ul[@id='messages']/li", 3},
		{"//li[2]", 1},
		{"//li[@aria-label]", 1},
		{"//button[text()='Close']", 1},
		{"//*[contains(@class,'close')]", 1},
		{"//div[contains(@class,'dialog')]/button[2]", 1},
		{"/html/body/ul/li", 3},
		{"//ul[@id='messages']//span", 3},
		{"/html/body//span[@class='line']", 3},
		{"//div[contains(@class,'dialog')]//button[text()='OK']", 1},
		{"//table", 0},
	}
	for _, tt := range tests {
		got := tree.Find(Key{XPath: tt.xpath})
		if len(got) != tt.want {
			t.Errorf("%s: got %d matches, want %d", tt.xpath, len(got), tt.want)
		}
	}

	ok, _ := tree.First(Key{XPath: "//div[contains(@class,'dialog')]/button[2]"})
	if ok.Text() != "OK" {
		t.Errorf("button[2]: got %q", ok.Text())
	}
}

func TestNode_Label(t *testing.T) {
	tree := mustParse(t, chatPage)
	items := tree.Find(Key{XPath: "//ul/li"})
	if len(items) != 3 {
		t.Fatalf("items: got %d", len(items))
	}

	want := []string{"alice: hi", "bob: :vol 3", "carol: spaced out"}
	for i, it := range items {
		if got := it.Label(); got != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got, want[i])
		}
	}
}

func TestNode_TextSkipsScript(t *testing.T) {
	tree := mustParse(t, chatPage)
	body, ok := tree.First(Key{XPath: "/html/body"})
	if !ok {
		t.Fatal("no body")
	}
	if got := body.Text(); containsWord(got, "never") {
		t.Fatalf("script text leaked: %q", got)
	}
}

func TestNode_Children(t *testing.T) {
	tree := mustParse(t, chatPage)
	list, ok := tree.First(Key{ID: "messages"})
	if !ok {
		t.Fatal("no list")
	}
	if got := len(list.Children(Key{})); got != 3 {
		t.Fatalf("children: got %d, want 3", got)
	}
	lines := list.Children(Key{XPath: "./li/span"})
	if len(lines) != 3 || lines[0].Text() != "alice: hi" {
		t.Fatalf("relative path: got %d", len(lines))
	}
}

func TestNode_Path(t *testing.T) {
	tree := mustParse(t, chatPage)
	second := tree.Find(Key{XPath: "//li"})[1]

	path := second.Path()
	if path != "/html/body/ul/li[2]" {
		t.Fatalf("path: got %q", path)
	}
	back, ok := tree.First(Key{XPath: path})
	if !ok || back.Label() != second.Label() {
		t.Fatalf("path %q does not round-trip", path)
	}
}

func TestKey_String(t *testing.T) {
	if s := (Key{Name: "close"}).String(); s != "close" {
		t.Errorf("named: %q", s)
	}
	if s := (Key{ID: "x"}).String(); s != "#x" {
		t.Errorf("id: %q", s)
	}
	if !(Key{}).IsZero() {
		t.Error("zero key")
	}
}

func containsWord(s, w string) bool {
	for i := 0; i+len(w) <= len(s); i++ {
		if s[i:i+len(w)] == w {
			return true
		}
	}
	return false
}
