package rename

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/lexer"
)

// Mode selects how occurrences of a key are matched.
type Mode int

const (
	// TokenMode matches a key only where the lexer would start a token and
	// when the byte after it cannot continue an identifier.
	TokenMode Mode = iota
	// SubstringMode matches any literal occurrence.
	SubstringMode
)

func (md Mode) String() string {
	if md == SubstringMode {
		return "substring"
	}
	return "token"
}

// ParseMode parses "token" or "substring". The empty string is TokenMode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "token":
		return TokenMode, nil
	case "substring":
		return SubstringMode, nil
	}
	return TokenMode, fmt.Errorf("unknown substitution mode %q", s)
}

// Substitute replaces every key of m in text with its replacement, longest
// key first.
func Substitute(m *Map, text string, mode Mode) string {
	for _, key := range m.LongestFirst() {
		e := m.entries[key]
		text = replaceAll(text, key, e.Replacement, mode)
	}
	return text
}

// replaceAll resumes each search after the inserted replacement, so a
// replacement containing its own key terminates.
func replaceAll(text, key, repl string, mode Mode) string {
	if key == "" {
		return text
	}
	var b strings.Builder
	pos := 0
	for pos <= len(text) {
		i := strings.Index(text[pos:], key)
		if i < 0 {
			break
		}
		i += pos
		end := i + len(key)
		if mode == TokenMode && !isWholeToken(text, i, end) {
			b.WriteString(text[pos : i+1])
			pos = i + 1
			continue
		}
		b.WriteString(text[pos:i])
		b.WriteString(repl)
		pos = end
	}
	if pos == 0 {
		return text
	}
	b.WriteString(text[pos:])
	return b.String()
}

func isWholeToken(text string, start, end int) bool {
	if !lexer.IsTokenStart(text, start) {
		return false
	}
	if end < len(text) && lexer.IsIdentContinuation(text[end]) {
		return false
	}
	return true
}

// Leftover is an original identifier still present after substitution.
type Leftover struct {
	Identifier string
	Offset     int
}

// Leftovers lexes text and returns every identifier token that is still a
// key of m (constants included) and is not itself a replacement.
func Leftovers(m *Map, text string) []Leftover {
	replacements := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		replacements[e.Replacement] = true
	}
	var out []Leftover
	for _, tok := range lexer.New(text).All() {
		if tok.Kind != lexer.Ident && tok.Kind != lexer.Keyword {
			continue
		}
		if _, ok := m.entries[tok.Text]; ok && !replacements[tok.Text] {
			out = append(out, Leftover{Identifier: tok.Text, Offset: tok.Start})
		}
	}
	return out
}
