// Package preprocess turns packet-program source lines into the raw text of
// the target function and the constant bindings declared around it.
package preprocess

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/lexer"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/rename"
)

const (
	// OpenSentinel and CloseSentinel wrap the collected function text.
	OpenSentinel  = "/*"
	CloseSentinel = "*/"

	// DefaultFunctionKeyword marks the line where the target function starts.
	DefaultFunctionKeyword = "func"
)

var (
	// ErrMissingFunction is returned when no line holds the function keyword.
	ErrMissingFunction = errors.New("no function found")

	// ErrUnterminatedBody is returned when the function has no opening brace
	// or its braces never balance.
	ErrUnterminatedBody = errors.New("function body is not terminated")
)

// MalformedConstantError reports a constant definition without both a name
// and a value.
type MalformedConstantError struct {
	Line int
	Text string
}

func (e *MalformedConstantError) Error() string {
	return fmt.Sprintf("line %d: malformed constant definition %q: expected a name and a value", e.Line, e.Text)
}

// Options configures a preprocessing run.
type Options struct {
	// FunctionKeyword is matched as a whole word; defaults to "func".
	FunctionKeyword string
	// Aggregate names the parameter of the rename map returned by Run.
	Aggregate string
}

// Program is the collected text of the target function.
type Program struct {
	// Text is the function text wrapped in OpenSentinel and CloseSentinel,
	// comments stripped, nothing substituted.
	Text string

	// BodyStart and BodyEnd are the offsets in Text of the function's
	// opening brace and of its matching closing brace.
	BodyStart int
	BodyEnd   int

	// Source lines (1-based) of the keyword and of both braces.
	KeywordLine int
	OpenLine    int
	CloseLine   int

	spans []lineSpan
}

type lineSpan struct {
	off  int
	line int
}

// Body returns the text strictly between the braces.
func (p *Program) Body() string {
	return p.Text[p.BodyStart+1 : p.BodyEnd]
}

// OpenBody returns the body including the opening brace and excluding the
// closing one.
func (p *Program) OpenBody() string {
	return p.Text[p.BodyStart:p.BodyEnd]
}

// LineAt maps an offset in Text to its source line, or 0 if off precedes
// the collected lines.
func (p *Program) LineAt(off int) int {
	i := sort.Search(len(p.spans), func(i int) bool {
		return p.spans[i].off > off
	})
	if i == 0 {
		return 0
	}
	return p.spans[i-1].line
}

// BodyLineAt maps an offset in Body to its source line.
func (p *Program) BodyLineAt(off int) int {
	return p.LineAt(p.BodyStart + 1 + off)
}

// SplitLines splits data on '\n'. A trailing newline does not produce an
// empty final line.
func SplitLines(data []byte) []string {
	s := string(data)
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// Run strips comments, binds constant definitions and collects the lines of
// the target function, from the keyword line to the end of input.
func Run(lines []string, opts Options) (*Program, *rename.Map, error) {
	keyword := opts.FunctionKeyword
	if keyword == "" {
		keyword = DefaultFunctionKeyword
	}
	m := rename.NewMap(opts.Aggregate)

	var b strings.Builder
	b.WriteString(OpenSentinel)

	p := &Program{}
	found := false
	for i, raw := range lines {
		lineNo := i + 1
		line, keep := stripComments(strings.TrimSuffix(raw, "\r"))
		if !keep {
			continue
		}

		if rest, ok := matchDefine(line); ok {
			name, value, ok := parseDefine(rest)
			if !ok {
				return nil, nil, &MalformedConstantError{Line: lineNo, Text: strings.TrimSpace(line)}
			}
			m.BindConstant(name, value, lineNo)
			continue
		}

		if !found {
			if !lexer.ContainsWord(line, keyword) {
				continue
			}
			found = true
			p.KeywordLine = lineNo
		}
		p.spans = append(p.spans, lineSpan{off: b.Len(), line: lineNo})
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(CloseSentinel)

	if !found {
		return nil, nil, fmt.Errorf("%w: keyword %q does not appear", ErrMissingFunction, keyword)
	}
	p.Text = b.String()

	if err := p.locateBody(keyword); err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// locateBody records the first '{' after the keyword and its matching '}'.
func (p *Program) locateBody(keyword string) error {
	first := p.spans[0].off
	end := len(p.Text)
	if len(p.spans) > 1 {
		end = p.spans[1].off
	}
	kw := lexer.IndexWord(p.Text[first:end], keyword)

	l := lexer.New(p.Text)
	l.Seek(first + kw)

	depth := 0
	for {
		tok, ok := l.Next()
		if !ok {
			break
		}
		if tok.Kind != lexer.Punct {
			continue
		}
		switch tok.Text {
		case "{":
			if depth == 0 {
				p.BodyStart = tok.Start
			}
			depth++
		case "}":
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				p.BodyEnd = tok.Start
				p.OpenLine = p.LineAt(p.BodyStart)
				p.CloseLine = p.LineAt(p.BodyEnd)
				return nil
			}
		}
	}

	if depth == 0 {
		return fmt.Errorf("%w: no opening brace after line %d", ErrUnterminatedBody, p.KeywordLine)
	}
	return fmt.Errorf("%w: brace opened on line %d is never closed", ErrUnterminatedBody, p.LineAt(p.BodyStart))
}
