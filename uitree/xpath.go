package uitree

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// evaluateXPath evaluates the supported subset:
//   - /html/body/div          absolute path
//   - //ul                    descendant anywhere, optionally //ul/li
//   - //div[@id='x']          attribute equality, //div[@aria-label] presence
//   - //li[2]                 position among same-tag siblings (1-based)
//   - //button[text()='OK']   collected text equality
//   - //*[contains(@class,'close')], //span[contains(text(),'Close')]
func evaluateXPath(root *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)
	switch {
	case strings.HasPrefix(xpath, "//"):
		return findDescendants(root, xpath[2:])
	case strings.HasPrefix(xpath, "/"):
		return followRelativePath(root, xpath[1:])
	default:
		return findDescendants(root, xpath)
	}
}

func findDescendants(root *html.Node, expr string) []*html.Node {
	first, rest := splitSteps(expr)
	tag, pred := parseStep(first)

	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesStep(n, tag, pred) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if rest == "" {
		return matches
	}
	var out []*html.Node
	for _, m := range matches {
		out = append(out, followRelativePath(m, rest)...)
	}
	return out
}

// followRelativePath follows child steps a/b/c from node.
func followRelativePath(node *html.Node, path string) []*html.Node {
	current := []*html.Node{node}
	for path != "" {
		var step string
		step, path = splitSteps(path)
		if step == "" {
			// "a//b": the next step matches at any depth.
			if path == "" {
				break
			}
			step, path = splitSteps(path)
			var next []*html.Node
			for _, parent := range current {
				for c := parent.FirstChild; c != nil; c = c.NextSibling {
					next = append(next, findDescendants(c, step)...)
				}
			}
			current = next
			continue
		}
		tag, pred := parseStep(step)
		var next []*html.Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if matchesStep(c, tag, pred) {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

// splitSteps splits the first step off a path, ignoring slashes inside
// predicates and quotes.
func splitSteps(path string) (string, string) {
	depth := 0
	var quote byte
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '/' && depth == 0:
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

type predicate struct {
	attr     string // attribute name, or "text()" for collected text
	value    string
	contains bool
	hasValue bool
	position int
}

// parseStep parses "li", "li[2]", "div[@id='x']", "*[contains(@class,'c')]".
func parseStep(step string) (string, *predicate) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 || !strings.HasSuffix(step, "]") {
		return step, nil
	}
	tag := step[:idx]
	expr := strings.TrimSpace(step[idx+1 : len(step)-1])

	if n, err := strconv.Atoi(expr); err == nil {
		return tag, &predicate{position: n}
	}

	if strings.HasPrefix(expr, "contains(") && strings.HasSuffix(expr, ")") {
		args := expr[len("contains(") : len(expr)-1]
		name, val, ok := strings.Cut(args, ",")
		if !ok {
			return tag, nil
		}
		return tag, &predicate{
			attr:     strings.TrimPrefix(strings.TrimSpace(name), "@"),
			value:    unquote(val),
			contains: true,
			hasValue: true,
		}
	}

	name, val, hasValue := strings.Cut(expr, "=")
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	p := &predicate{attr: name, hasValue: hasValue}
	if hasValue {
		p.value = unquote(val)
	}
	return tag, p
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `'"`)
}

func matchesStep(n *html.Node, tag string, pred *predicate) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if tag != "*" && n.Data != tag {
		return false
	}
	if pred == nil {
		return true
	}

	if pred.position > 0 {
		if n.Parent == nil {
			return pred.position == 1
		}
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}

	var val string
	var present bool
	if pred.attr == "text()" {
		val, present = collectText(n), true
	} else {
		for _, a := range n.Attr {
			if a.Key == pred.attr {
				val, present = a.Val, true
				break
			}
		}
	}
	switch {
	case !present:
		return false
	case !pred.hasValue:
		return true
	case pred.contains:
		return strings.Contains(val, pred.value)
	default:
		return val == pred.value
	}
}
