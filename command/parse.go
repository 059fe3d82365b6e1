package command

import (
	"strings"
	"unicode"
)

// Syntax describes what a command line looks like.
type Syntax struct {
	// Sigils are the prefixes that mark a command (":" in ":vol 5").
	Sigils []string `yaml:"sigils"`
	// SenderSep separates the chat author from the body ("alice: :vol 5").
	SenderSep string `yaml:"sender_separator"`
}

// DefaultSyntax is ":" commands behind "name: " author prefixes.
func DefaultSyntax() Syntax {
	return Syntax{Sigils: []string{":"}, SenderSep: ": "}
}

// Parse parses one chat line. Ordinary lines yield ErrNotCommand; a
// command with broken quoting yields a *ParseError.
func Parse(text string, syn Syntax) (Invocation, error) {
	if len(syn.Sigils) == 0 {
		syn.Sigils = DefaultSyntax().Sigils
	}
	line := strings.TrimSpace(text)

	originator := ""
	body, ok := cutSigil(line, syn.Sigils)
	if !ok && syn.SenderSep != "" {
		if who, rest, found := strings.Cut(line, syn.SenderSep); found {
			if b, ok2 := cutSigil(strings.TrimLeft(rest, " "), syn.Sigils); ok2 {
				originator, body, ok = strings.TrimSpace(who), b, true
			}
		}
	}
	if !ok {
		return Invocation{}, ErrNotCommand
	}

	name, rest := splitName(body)
	if !validName(name) {
		return Invocation{}, ErrNotCommand
	}

	params, err := tokenize(rest)
	if err != nil {
		err.Input = text
		err.Originator = originator
		err.Pos += len(line) - len(rest)
		return Invocation{}, err
	}
	return Invocation{
		Name:       strings.ToLower(name),
		Originator: originator,
		Raw:        text,
		params:     params,
	}, nil
}

func cutSigil(s string, sigils []string) (string, bool) {
	for _, sig := range sigils {
		if sig != "" && strings.HasPrefix(s, sig) {
			return s[len(sig):], true
		}
	}
	return "", false
}

func splitName(body string) (string, string) {
	i := strings.IndexFunc(body, unicode.IsSpace)
	if i < 0 {
		return body, ""
	}
	return body[:i], body[i:]
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return unicode.IsLetter([]rune(name)[0])
}

// tokenize splits on whitespace. "..." groups with backslash escapes,
// '...' groups literally, and adjacent pieces join into one token.
func tokenize(s string) ([]string, *ParseError) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		start   int
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '"':
			switch r {
			case '\\':
				if i+1 < len(runes) {
					i++
					cur.WriteRune(runes[i])
				} else {
					cur.WriteRune(r)
				}
			case '"':
				quote = 0
			default:
				cur.WriteRune(r)
			}
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inToken, start = r, true, i
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, &ParseError{Pos: len(string(runes[:start])), Reason: "unterminated " + string(quote) + " quote"}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
