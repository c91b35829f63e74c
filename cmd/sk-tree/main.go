// sk-tree prints how the C grammar sees a packet program: every function
// definition with its body lines, then the children of the one whose header
// holds the function keyword.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/config"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/locate"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/source"
)

type options struct {
	Config string `short:"c" long:"config" value-name:"FILE" description:"Config file (JSON or YAML)"`

	Args struct {
		Source  string `positional-arg-name:"source_file" required:"yes"`
		Keyword string `positional-arg-name:"keyword"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	parser := flags.NewParser(&opts, flags.PassDoubleDash)
	parser.Name = "sk-tree"
	parser.Usage = "[OPTIONS] <source_file> [keyword]"
	if _, err := parser.ParseArgs(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		parser.WriteHelp(stderr)
		return 1
	}
	if err := outline(&opts, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func outline(opts *options, w io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.LoadFile(opts.Config)
	} else {
		cfg, err = config.Load(opts.Args.Source)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	keyword := opts.Args.Keyword
	if keyword == "" {
		keyword = cfg.FunctionKeyword
	}

	src, err := source.Read(opts.Args.Source, cfg.Input.Encoding)
	if err != nil {
		return err
	}
	out, err := locate.New().Outline(context.Background(), src, keyword)
	if err != nil {
		return err
	}

	for _, fn := range out.Functions {
		mark := ""
		if fn.HasError {
			mark = " (syntax error)"
		}
		fmt.Fprintf(w, "%s: line %d, body %d-%d%s\n", fn.Name, fn.Line, fn.OpenLine, fn.CloseLine, mark)
	}
	if !out.Found {
		return fmt.Errorf("%w %q", locate.ErrNotFound, keyword)
	}

	fmt.Fprintf(w, "\n%s body has %d children:\n", out.Target.Name, len(out.Body))
	for i, st := range out.Body {
		fmt.Fprintf(w, "  [%d] line %d type=%s field=%q content=%q\n", i, st.Line, st.Type, st.Field, st.Content)
	}
	return nil
}
