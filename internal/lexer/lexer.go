// Package lexer splits packet-program source into classified tokens.
//
// Identifiers follow the packet-program convention: they start with an ASCII
// letter and continue with letters, digits, '_', '.', '[' and ']', so a field
// access such as "p.dst" or an indexed state access such as "count[p.dst]"
// is one token.
package lexer

import "strings"

// IsIdentStart reports whether c can begin an identifier.
func IsIdentStart(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// IsIdentContinuation reports whether c can appear after the first byte of
// an identifier.
func IsIdentContinuation(c byte) bool {
	switch {
	case IsIdentStart(c):
		return true
	case '0' <= c && c <= '9':
		return true
	case c == '_', c == '.', c == '[', c == ']':
		return true
	}
	return false
}

// IsPrefixByte reports whether c continues an identifier but can neither
// start one nor start a number. A run of such bytes is skipped before the
// next identifier begins.
func IsPrefixByte(c byte) bool {
	return IsIdentContinuation(c) && !IsIdentStart(c) && !isDigit(c)
}

// IsTokenStart reports whether the lexer, scanning src from any earlier
// token boundary, begins a token at off. That holds when the bytes before
// off back to the previous non-continuation byte are all prefix bytes.
func IsTokenStart(src string, off int) bool {
	for i := off - 1; i >= 0; i-- {
		c := src[i]
		if !IsIdentContinuation(c) {
			return true
		}
		if !IsPrefixByte(c) {
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// Kind classifies a token.
type Kind int

const (
	Space   Kind = iota // run of whitespace
	Punct               // single byte that is not part of any run
	Ident               // letter followed by continuation bytes
	Keyword             // Ident reserved by the language
	Number              // digit followed by continuation bytes
	Word                // '_', '.', '[' or ']' run before an identifier or number
)

var kindNames = [...]string{
	Space:   "space",
	Punct:   "punct",
	Ident:   "ident",
	Keyword: "keyword",
	Number:  "number",
	Word:    "word",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Token is one lexeme. Start and End are byte offsets into the scanned text.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
}

// DefaultKeywords are rejected as identifiers: "if" exactly, and any
// identifier beginning with "else".
var (
	DefaultKeywords        = []string{"if"}
	DefaultKeywordPrefixes = []string{"else"}
)

// Lexer produces tokens lazily. The cursor never moves past len(src).
type Lexer struct {
	src      string
	pos      int
	keywords map[string]bool
	prefixes []string
}

// Option configures a Lexer.
type Option func(*Lexer)

// WithKeywords adds exact-match keywords on top of the defaults.
func WithKeywords(words ...string) Option {
	return func(l *Lexer) {
		for _, w := range words {
			if w != "" {
				l.keywords[w] = true
			}
		}
	}
}

// New returns a Lexer positioned at the start of src.
func New(src string, opts ...Option) *Lexer {
	l := &Lexer{
		src:      src,
		keywords: make(map[string]bool, len(DefaultKeywords)),
		prefixes: DefaultKeywordPrefixes,
	}
	for _, w := range DefaultKeywords {
		l.keywords[w] = true
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pos = 0
}

// Pos returns the offset of the next unread byte.
func (l *Lexer) Pos() int {
	return l.pos
}

// Seek moves the cursor to off, clamped to the input bounds.
func (l *Lexer) Seek(off int) {
	switch {
	case off < 0:
		l.pos = 0
	case off > len(l.src):
		l.pos = len(l.src)
	default:
		l.pos = off
	}
}

// Next returns the next token. ok is false once the input is exhausted.
func (l *Lexer) Next() (tok Token, ok bool) {
	if l.pos >= len(l.src) {
		return Token{}, false
	}
	start := l.pos
	c := l.src[start]

	var kind Kind
	switch {
	case isSpace(c):
		l.advanceWhile(isSpace)
		kind = Space
	case IsIdentStart(c):
		l.pos++
		l.advanceWhile(IsIdentContinuation)
		kind = Ident
		if l.IsKeyword(l.src[start:l.pos]) {
			kind = Keyword
		}
	case isDigit(c):
		l.pos++
		l.advanceWhile(IsIdentContinuation)
		kind = Number
	case IsIdentContinuation(c):
		// "_tmp" is Word "_" then Ident "tmp".
		l.advanceWhile(IsPrefixByte)
		kind = Word
	default:
		l.pos++
		kind = Punct
	}

	return Token{Kind: kind, Text: l.src[start:l.pos], Start: start, End: l.pos}, true
}

func (l *Lexer) advanceWhile(pred func(byte) bool) {
	for l.pos < len(l.src) && pred(l.src[l.pos]) {
		l.pos++
	}
}

// IsKeyword reports whether s is reserved and must not be renamed.
func (l *Lexer) IsKeyword(s string) bool {
	if l.keywords[s] {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// All drains the lexer from its current position.
func (l *Lexer) All() []Token {
	var toks []Token
	for {
		tok, ok := l.Next()
		if !ok {
			return toks
		}
		toks = append(toks, tok)
	}
}

// Identifiers returns every non-keyword identifier in src, in order, with
// duplicates preserved.
func Identifiers(src string, opts ...Option) []Token {
	l := New(src, opts...)
	var out []Token
	for {
		tok, ok := l.Next()
		if !ok {
			return out
		}
		if tok.Kind == Ident {
			out = append(out, tok)
		}
	}
}

// ContainsWord reports whether word occurs in src as a whole Ident or
// Keyword token.
func ContainsWord(src, word string) bool {
	return IndexWord(src, word) >= 0
}

// IndexWord returns the offset of the first whole-token occurrence of word
// in src, or -1.
func IndexWord(src, word string) int {
	if word == "" {
		return -1
	}
	l := New(src)
	for {
		tok, ok := l.Next()
		if !ok {
			return -1
		}
		if (tok.Kind == Ident || tok.Kind == Keyword) && tok.Text == word {
			return tok.Start
		}
	}
}
