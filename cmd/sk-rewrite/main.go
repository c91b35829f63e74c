// sk-rewrite rewrites the packet-processing function of a C-like source file
// into a program over a single state-and-packet aggregate.
//
// The pipeline:
//  1. Preprocess: strip comments, bind #define constants, collect the
//     function text and find its braces
//  2. Build the rename map from the body (packet fields and state fields)
//  3. Substitute canonical names, longest identifier first
//  4. Validate the manifest with CUE and evaluate the OPA rules
//  5. Write the legend, the original text and the rewritten function
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/config"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/rewriter"
)

type options struct {
	Verbose   bool   `short:"v" long:"verbose" description:"Enable verbose output"`
	Config    string `short:"c" long:"config" value-name:"FILE" description:"Config file (JSON or YAML)"`
	Output    string `short:"o" long:"output" value-name:"FILE" description:"Rewritten program (default: result.sk)"`
	Manifest  string `long:"manifest" value-name:"FILE" description:"Write the rename tables as JSON"`
	DeltaFrom string `long:"delta-from" value-name:"FILE" description:"Previous manifest to diff against"`
	DeltaOut  string `long:"delta-out" value-name:"FILE" description:"Write the manifest delta here (default: stdout)"`
	Locator   string `long:"locator" choice:"lexical" choice:"treesitter" description:"How the function body is located"`
	Timing    string `long:"timing" value-name:"FILE" description:"Write stage timings as JSONL"`
	NoPolicy  bool   `long:"no-policy" description:"Skip rule evaluation"`

	Args struct {
		Source []string `positional-arg-name:"source_file"`
	} `positional-args:"yes"`
}

// invocationError is a command-line misuse: usage goes to stderr and the
// exit status is 1.
type invocationError struct {
	msg string
}

func (e *invocationError) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 1 {
		switch args[0] {
		case "init":
			return runInit(stdout, stderr)
		case "-h", "--help", "help":
			printUsage(stdout, newParser(&options{}))
			return 0
		}
	}

	var opts options
	parser := newParser(&opts)
	if _, err := parser.ParseArgs(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr, parser)
		return 1
	}
	if err := checkArgs(&opts); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr, parser)
		return 1
	}

	if err := rewrite(&opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newParser(opts *options) *flags.Parser {
	parser := flags.NewParser(opts, flags.PassDoubleDash)
	parser.Name = "sk-rewrite"
	parser.Usage = "[OPTIONS] <source_file>"
	return parser
}

func checkArgs(opts *options) error {
	if len(opts.Args.Source) != 1 {
		return &invocationError{msg: fmt.Sprintf("expected exactly one source file, got %d", len(opts.Args.Source))}
	}
	if opts.DeltaOut != "" && opts.DeltaFrom == "" {
		return &invocationError{msg: "--delta-out requires --delta-from"}
	}
	return nil
}

func printUsage(w io.Writer, parser *flags.Parser) {
	parser.WriteHelp(w)
	fmt.Fprintln(w, `
Commands:
  init              Create a sk_rewrite.json configuration file

Configuration:
  sk-rewrite looks for configuration in:
    1. ./sk_rewrite.json, ./.sk_rewrite.json, ./sk_rewrite.yaml
    2. the same names next to <source_file>
    3. ~/.config/sk_rewrite/config.json

  Run 'sk-rewrite init' to create a default configuration file.`)
}

func runInit(stdout, stderr io.Writer) int {
	configPath := "sk_rewrite.json"

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(stdout, "Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(stdout, "Aborted.")
			return 0
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(stderr, "Error creating config: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Created %s\n", configPath)
	fmt.Fprintln(stdout, "\nEdit this file to configure:")
	fmt.Fprintln(stdout, "  - Function keyword, aggregate name and signature")
	fmt.Fprintln(stdout, "  - Packet and state field budgets")
	fmt.Fprintln(stdout, "  - Rule severities")
	return 0
}

func rewrite(opts *options, stdout, stderr io.Writer) error {
	input := opts.Args.Source[0]

	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.LoadFile(opts.Config)
		if err != nil {
			return fmt.Errorf("loading config %s: %w", opts.Config, err)
		}
	} else {
		cfg, err = config.Load(input)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: Could not load config: %v (using defaults)\n", err)
			cfg = config.DefaultConfig()
		}
	}
	if opts.Locator != "" {
		cfg.Rewrite.Locator = opts.Locator
	}

	rw := rewriter.NewWithConfig(cfg)
	rw.Stdout = stdout
	rw.Stderr = stderr
	rw.Verbose = opts.Verbose
	rw.Output = opts.Output
	rw.ManifestPath = opts.Manifest
	rw.DeltaFrom = opts.DeltaFrom
	rw.DeltaOut = opts.DeltaOut
	rw.NoPolicy = opts.NoPolicy
	if opts.Timing != "" {
		rw.Timing = true
		rw.TimingPath = opts.Timing
	}

	return rw.Run(context.Background(), input)
}
