// Package locate finds the target function structurally with the Tree-sitter
// C grammar. The preprocessor finds the same function by counting braces;
// comparing the two catches inputs where the line-based comment handling
// miscounts, such as braces inside multi-line block comments.
package locate

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// ErrNotFound is returned when no function definition mentions the keyword
// in its header.
var ErrNotFound = errors.New("no function definition matches keyword")

// Locator parses C-like source with Tree-sitter
type Locator struct {
	parser *sitter.Parser
	lang   *sitter.Language
}

// Function describes one function_definition node.
type Function struct {
	Name string
	// Line is the 1-based line where the definition starts.
	Line int
	// OpenLine and CloseLine are the 1-based lines of the body braces.
	OpenLine  int
	CloseLine int
	// BodyStart and BodyEnd are byte offsets of '{' and '}' in the source.
	BodyStart int
	BodyEnd   int
	// HasError is set when the definition contains syntax errors.
	HasError bool
}

// New creates a Locator for the C grammar.
func New() *Locator {
	lang := c.GetLanguage()
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	return &Locator{
		parser: parser,
		lang:   lang,
	}
}

// Functions returns every function definition in source order.
func (l *Locator) Functions(ctx context.Context, src []byte) ([]Function, error) {
	var out []Function
	err := l.walkDefinitions(ctx, src, func(n *sitter.Node) bool {
		if fn, ok := describe(n, src); ok {
			out = append(out, fn)
		}
		return true
	})
	return out, err
}

// Locate returns the first function definition whose header (everything
// before the body) contains keyword as a whole token.
func (l *Locator) Locate(ctx context.Context, src []byte, keyword string) (Function, error) {
	var (
		found Function
		ok    bool
	)
	err := l.walkDefinitions(ctx, src, func(n *sitter.Node) bool {
		if !headerMentions(n, src, keyword) {
			return true
		}
		found, ok = describe(n, src)
		return !ok
	})
	if err != nil {
		return Function{}, err
	}
	if !ok {
		return Function{}, fmt.Errorf("%w %q", ErrNotFound, keyword)
	}
	return found, nil
}

func (l *Locator) walkDefinitions(ctx context.Context, src []byte, visit func(*sitter.Node) bool) error {
	tree, err := l.parse(ctx, src)
	if err != nil {
		return err
	}
	defer tree.Close()
	eachDefinition(tree.RootNode(), visit)
	return nil
}

func (l *Locator) parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	tree, err := l.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return tree, nil
}

// eachDefinition visits function_definition nodes in source order until
// visit returns false.
func eachDefinition(n *sitter.Node, visit func(*sitter.Node) bool) bool {
	if n == nil {
		return true
	}
	if n.Type() == "function_definition" {
		return visit(n)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if !eachDefinition(n.Child(i), visit) {
			return false
		}
	}
	return true
}

// Statement is one direct child of a function body.
type Statement struct {
	Type    string
	Field   string
	Line    int
	Content string
}

// Outline is everything one parse reports about a program.
type Outline struct {
	Functions []Function
	// Target is the first definition whose header holds the keyword.
	Target Function
	Found  bool
	// Body lists the children of Target's compound_statement, braces
	// included.
	Body []Statement
}

// Outline parses src once and collects every function definition plus the
// body of the one matching keyword. A missing keyword is not an error;
// Found reports it.
func (l *Locator) Outline(ctx context.Context, src []byte, keyword string) (Outline, error) {
	tree, err := l.parse(ctx, src)
	if err != nil {
		return Outline{}, err
	}
	defer tree.Close()

	var out Outline
	eachDefinition(tree.RootNode(), func(n *sitter.Node) bool {
		fn, ok := describe(n, src)
		if !ok {
			return true
		}
		out.Functions = append(out.Functions, fn)
		if !out.Found && headerMentions(n, src, keyword) {
			out.Target, out.Found = fn, true
			out.Body = statements(n.ChildByFieldName("body"), src)
		}
		return true
	})
	return out, nil
}

func statements(body *sitter.Node, src []byte) []Statement {
	out := make([]Statement, 0, body.ChildCount())
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		out = append(out, Statement{
			Type:    child.Type(),
			Field:   body.FieldNameForChild(i),
			Line:    int(child.StartPoint().Row) + 1,
			Content: child.Content(src),
		})
	}
	return out
}

func describe(n *sitter.Node, src []byte) (Function, bool) {
	body := n.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return Function{}, false
	}
	closing := body.Child(int(body.ChildCount()) - 1)
	if closing.Type() != "}" || closing.IsMissing() {
		return Function{}, false
	}

	return Function{
		Name:      declaratorName(n.ChildByFieldName("declarator"), src),
		Line:      int(n.StartPoint().Row) + 1,
		OpenLine:  int(body.StartPoint().Row) + 1,
		CloseLine: int(closing.StartPoint().Row) + 1,
		BodyStart: int(body.StartByte()),
		BodyEnd:   int(closing.StartByte()),
		HasError:  n.HasError(),
	}, true
}

// headerMentions reports whether a leaf before the body spells keyword.
func headerMentions(def *sitter.Node, src []byte, keyword string) bool {
	body := def.ChildByFieldName("body")
	var search func(n *sitter.Node) bool
	search = func(n *sitter.Node) bool {
		if body != nil && n.StartByte() >= body.StartByte() {
			return false
		}
		if n.ChildCount() == 0 {
			return n.Content(src) == keyword
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if search(n.Child(i)) {
				return true
			}
		}
		return false
	}
	return search(def)
}

// declaratorName unwraps pointer and function declarators down to the
// identifier.
func declaratorName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier":
			return n.Content(src)
		}
		next := n.ChildByFieldName("declarator")
		if next == nil {
			return ""
		}
		n = next
	}
	return ""
}
