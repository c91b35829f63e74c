package rename

import "github.com/robert-at-pretension-io/sk-rewrite/internal/lexer"

// Builder extracts identifiers from a function body into a Map.
type Builder struct {
	// Keywords are extra exact-match words that are never renamed.
	Keywords []string
}

// Build scans body left to right and inserts every identifier that is not a
// keyword and not already bound. lineAt maps a byte offset in body to a
// source line; it may be nil. Build returns the number of entries added, so
// a second call over the same body returns 0.
func (b Builder) Build(m *Map, body string, lineAt func(off int) int) int {
	added := 0
	for _, tok := range lexer.Identifiers(body, lexer.WithKeywords(b.Keywords...)) {
		line := 0
		if lineAt != nil {
			line = lineAt(tok.Start)
		}
		if _, ok := m.Insert(tok.Text, line); ok {
			added++
		}
	}
	return added
}
