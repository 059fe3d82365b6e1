// Package uitree parses one UI-tree snapshot and locates elements in it.
//
// A snapshot is the markup dump of the automation surface (the page DOM for
// the CDP backend). Elements are addressed by Key: an identifier match on
// the id or resource-id attribute, or an expression in a practical XPath
// subset. A Tree is read-only; acting on an element always goes back to the
// live backend.
package uitree

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrParse is returned when a snapshot cannot be turned into a tree.
var ErrParse = errors.New("uitree: snapshot cannot be parsed")

// Key addresses an element. ID wins over XPath when both are set.
type Key struct {
	Name  string `yaml:"name" json:"name,omitempty"`
	ID    string `yaml:"id" json:"id,omitempty"`
	XPath string `yaml:"xpath" json:"xpath,omitempty"`
	// Multi marks keys expected to match several elements at once.
	Multi bool `yaml:"multi" json:"multi,omitempty"`
}

// IsZero reports whether the key addresses nothing.
func (k Key) IsZero() bool { return k.ID == "" && k.XPath == "" }

// String returns the key's name, or its selector when unnamed.
func (k Key) String() string {
	switch {
	case k.Name != "":
		return k.Name
	case k.ID != "":
		return "#" + k.ID
	default:
		return k.XPath
	}
}

// Tree is one parsed snapshot.
type Tree struct {
	root  *html.Node
	Taken time.Time
}

// Parse builds a Tree from snapshot markup.
func Parse(data []byte) (*Tree, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ErrParse)
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &Tree{root: root, Taken: time.Now()}, nil
}

// Find returns every element matching k, in document order.
func (t *Tree) Find(k Key) []*Node {
	if t == nil || k.IsZero() {
		return nil
	}
	var raw []*html.Node
	if k.ID != "" {
		raw = findByID(t.root, k.ID)
	} else {
		raw = evaluateXPath(t.root, k.XPath)
	}
	out := make([]*Node, 0, len(raw))
	for _, n := range raw {
		out = append(out, &Node{n: n})
	}
	return out
}

// First returns the first element matching k.
func (t *Tree) First(k Key) (*Node, bool) {
	found := t.Find(k)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// Has reports whether k matches at least one element.
func (t *Tree) Has(k Key) bool {
	_, ok := t.First(k)
	return ok
}

// Node is a read-only view of one element of a snapshot.
type Node struct {
	n *html.Node
}

// Tag returns the element name.
func (n *Node) Tag() string { return n.n.Data }

// Attr returns an attribute value.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// ID returns the id, falling back to resource-id.
func (n *Node) ID() string {
	if v, ok := n.Attr("id"); ok {
		return v
	}
	v, _ := n.Attr("resource-id")
	return v
}

// Text returns the visible text of the element and its descendants,
// whitespace-collapsed.
func (n *Node) Text() string {
	if v, ok := n.Attr("text"); ok && v != "" {
		return v
	}
	return collectText(n.n)
}

// Label returns the content description when present, else the visible
// text. This is the canonical identity of a chat line.
func (n *Node) Label() string {
	for _, name := range []string{"content-desc", "aria-label"} {
		if v, ok := n.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return n.Text()
}

// Children returns the element children matching k relative to this node
// (k.XPath evaluated as a relative path); a zero key returns all element
// children.
func (n *Node) Children(k Key) []*Node {
	var raw []*html.Node
	switch {
	case k.IsZero():
		for c := n.n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				raw = append(raw, c)
			}
		}
	case k.ID != "":
		raw = findByID(n.n, k.ID)
	default:
		xp := strings.TrimPrefix(k.XPath, "./")
		if strings.HasPrefix(xp, "/") {
			raw = evaluateXPath(n.n, xp)
		} else {
			raw = followRelativePath(n.n, xp)
		}
	}
	out := make([]*Node, 0, len(raw))
	for _, c := range raw {
		out = append(out, &Node{n: c})
	}
	return out
}

// Path returns the positional path of the node inside its snapshot. It is
// only meaningful within the snapshot it came from.
func (n *Node) Path() string {
	var parts []string
	for cur := n.n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		idx, total := 0, 0
		if cur.Parent != nil {
			for s := cur.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type == html.ElementNode && s.Data == cur.Data {
					total++
					if s == cur {
						idx = total
					}
				}
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", cur.Data, idx))
		} else {
			parts = append(parts, cur.Data)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func findByID(root *html.Node, id string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && idMatches(n, id) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// idMatches accepts the bare id, or the "pkg:id/name" resource-id form.
func idMatches(n *html.Node, id string) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "id":
			if a.Val == id {
				return true
			}
		case "resource-id":
			if a.Val == id || strings.HasSuffix(a.Val, ":id/"+id) {
				return true
			}
		}
	}
	return false
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			for _, w := range strings.Fields(n.Data) {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(w)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
