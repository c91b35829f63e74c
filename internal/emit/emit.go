// Package emit renders the rewritten program: the renaming legend, the
// original function text and the function with its normalized signature.
package emit

import (
	"fmt"
	"io"
	"strings"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/rename"
)

// DefaultSignature is the header of the rewritten function.
const DefaultSignature = "|StateAndPacket| program (|StateAndPacket| state_and_packet)"

// Document is everything Render needs.
type Document struct {
	Map *rename.Map
	// Original is the sentinel-wrapped function text before substitution.
	Original string
	// Body is the substituted body, starting at the opening brace and
	// stopping before the closing one.
	Body      string
	Signature string
}

// legendSections lists the categories in output order.
var legendSections = []rename.Category{rename.Constant, rename.Packet, rename.State}

// Legend writes one "// original=replacement" line per entry, grouped into
// constant, packet and state sections, each followed by a blank line.
func Legend(m *rename.Map) string {
	var b strings.Builder
	for _, cat := range legendSections {
		for _, e := range m.ByCategory(cat) {
			fmt.Fprintf(&b, "// %s=%s\n", e.Original, e.Replacement)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Function wraps body in signature and appends the return of the aggregate.
func Function(signature, aggregate, body string) string {
	if signature == "" {
		signature = DefaultSignature
	}
	return signature + body + " return " + aggregate + ";\n}"
}

// Render writes the full output file.
func Render(w io.Writer, doc Document) error {
	var b strings.Builder
	b.WriteString(Legend(doc.Map))
	b.WriteString(doc.Original)
	b.WriteString("\n\n")
	b.WriteString(Function(doc.Signature, doc.Map.Aggregate(), doc.Body))
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
