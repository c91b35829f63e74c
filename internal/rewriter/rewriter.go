package rewriter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/config"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/emit"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/locate"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/manifest"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/policy"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/preprocess"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/rename"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/source"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/validator"
)

var (
	// ErrPolicy is returned when a rule reports an error-severity violation.
	ErrPolicy = errors.New("policy violations")

	// ErrLocatorMismatch is returned when the structural locator disagrees
	// with the brace counting done during preprocessing.
	ErrLocatorMismatch = errors.New("function body location mismatch")
)

// Rewriter drives one rewrite: read, preprocess, build the rename map,
// substitute, check, emit.
type Rewriter struct {
	// Configuration loaded from sk_rewrite.json
	Config *config.Config

	// Output overrides Config.Output when set
	Output string

	// ManifestPath receives the manifest tables as JSON when set
	ManifestPath string

	// DeltaFrom is a previous manifest; the row delta against it goes to
	// DeltaOut, or to Stdout when DeltaOut is empty
	DeltaFrom string
	DeltaOut  string

	// NoPolicy skips rule evaluation
	NoPolicy bool

	// Verbose output
	Verbose bool

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	Stdout io.Writer
	Stderr io.Writer
}

// Result is everything one rewrite produced.
type Result struct {
	Program   *preprocess.Program
	Map       *rename.Map
	Body      string
	Leftovers []policy.Leftover
	Tables    manifest.Tables
	Policy    *policy.Result
	// Output is the full text of the rewritten program.
	Output string
}

// New creates a Rewriter with default configuration
func New() *Rewriter {
	return NewWithConfig(config.DefaultConfig())
}

// NewWithConfig creates a Rewriter with the given configuration
func NewWithConfig(cfg *config.Config) *Rewriter {
	return &Rewriter{
		Config: cfg,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (rw *Rewriter) logf(format string, args ...interface{}) {
	if rw.Verbose {
		fmt.Fprintf(rw.stderr(), format, args...)
	}
}

func (rw *Rewriter) stderr() io.Writer {
	if rw.Stderr == nil {
		return os.Stderr
	}
	return rw.Stderr
}

func (rw *Rewriter) stdout() io.Writer {
	if rw.Stdout == nil {
		return os.Stdout
	}
	return rw.Stdout
}

// OutputPath is where Run writes the rewritten program.
func (rw *Rewriter) OutputPath() string {
	if rw.Output != "" {
		return rw.Output
	}
	if rw.Config != nil && rw.Config.Output != "" {
		return rw.Config.Output
	}
	return config.DefaultOutput
}

// Run rewrites inputPath and writes the result. Nothing is written when any
// stage fails.
func (rw *Rewriter) Run(ctx context.Context, inputPath string) error {
	runStart := time.Now()
	timing := openStageClock(runStart, inputPath, rw.resolveTimingPath())
	if err := timing.Err(); err != nil {
		fmt.Fprintf(rw.stderr(), "Warning: timing output disabled: %v\n", err)
	}
	defer timing.Close()

	if rw.Config == nil {
		cfg, err := config.Load(inputPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rw.Config = cfg
	}

	stepStart := time.Now()
	data, err := source.Read(inputPath, rw.Config.Input.Encoding)
	timing.Stage("read", stepStart, err, stageStats{Bytes: len(data)})
	if err != nil {
		return err
	}
	rw.logf("Read %s (%d bytes)\n", inputPath, len(data))

	result, err := rw.rewrite(ctx, inputPath, data, timing)
	if err != nil {
		return err
	}

	var delta *manifest.Delta
	if rw.DeltaFrom != "" {
		prev, err := manifest.ReadTables(rw.DeltaFrom)
		if err != nil {
			return fmt.Errorf("reading previous manifest: %w", err)
		}
		d := manifest.ComputeDelta(prev, result.Tables)
		delta = &d
	}

	stepStart = time.Now()
	err = rw.write(result, delta)
	timing.Stage("emit", stepStart, err, stageStats{Bytes: len(result.Output)})
	if err != nil {
		return err
	}
	timing.Stage("total", runStart, nil, stageStats{
		Constants:    result.Tables.Counts.Constants,
		PacketFields: result.Tables.Counts.PacketFields,
		StateFields:  result.Tables.Counts.StateFields,
		Leftovers:    len(result.Leftovers),
	})

	rw.logf("Wrote %s\n", rw.OutputPath())
	if rw.Verbose {
		fmt.Fprintf(rw.stderr(), "\n=== Rewrite Summary ===\n")
		fmt.Fprintf(rw.stderr(), "  Constants:     %d\n", result.Tables.Counts.Constants)
		fmt.Fprintf(rw.stderr(), "  Packet fields: %d\n", result.Tables.Counts.PacketFields)
		fmt.Fprintf(rw.stderr(), "  State fields:  %d\n", result.Tables.Counts.StateFields)
		fmt.Fprintf(rw.stderr(), "  emit:          %s\n", formatDuration(timing.Elapsed("emit")))
		fmt.Fprintf(rw.stderr(), "  total:         %s\n", formatDuration(timing.Elapsed("total")))
	}
	return nil
}

// Rewrite runs every in-memory stage over data. name labels the source in
// the manifest and in violations.
func (rw *Rewriter) Rewrite(ctx context.Context, name string, data []byte) (*Result, error) {
	return rw.rewrite(ctx, name, data, nil)
}

func (rw *Rewriter) rewrite(ctx context.Context, name string, data []byte, timing *stageClock) (*Result, error) {
	cfg := rw.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	mode, err := rename.ParseMode(cfg.Rewrite.Substitution)
	if err != nil {
		return nil, err
	}

	// 1. Preprocess: constants, comment stripping, function text, braces
	stepStart := time.Now()
	prog, m, err := preprocess.Run(preprocess.SplitLines(data), preprocess.Options{
		FunctionKeyword: cfg.FunctionKeyword,
		Aggregate:       cfg.Aggregate,
	})
	if err == nil && cfg.Rewrite.Locator == config.LocatorTreeSitter {
		err = crossCheck(ctx, data, cfg.FunctionKeyword, prog)
	}
	if err != nil {
		timing.Stage("preprocess", stepStart, err, stageStats{})
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	timing.Stage("preprocess", stepStart, nil, stageStats{
		Lines:     prog.CloseLine - prog.OpenLine + 1,
		Constants: m.Count(rename.Constant),
	})
	rw.logf("Function on line %d, body lines %d-%d\n", prog.KeywordLine, prog.OpenLine, prog.CloseLine)

	// 2. Symbols
	stepStart = time.Now()
	added := rename.Builder{Keywords: cfg.Rewrite.Keywords}.Build(m, prog.Body(), prog.BodyLineAt)
	timing.Stage("symbols", stepStart, nil, stageStats{
		Added:        added,
		PacketFields: m.Count(rename.Packet),
		StateFields:  m.Count(rename.State),
	})
	rw.logf("Bound %d identifiers\n", added)

	// 3. Substitute
	stepStart = time.Now()
	body := rename.Substitute(m, prog.OpenBody(), mode)
	leftovers := leftoverRows(m, body, prog.OpenLine)
	timing.Stage("substitute", stepStart, nil, stageStats{Bytes: len(body), Leftovers: len(leftovers)})

	result := &Result{
		Program:   prog,
		Map:       m,
		Body:      body,
		Leftovers: leftovers,
		Tables: manifest.BuildTables(name, manifest.FunctionRow{
			Keyword:   cfg.FunctionKeyword,
			StartLine: prog.KeywordLine,
			EndLine:   prog.CloseLine,
		}, m),
	}

	// 4. Validate the manifest contract
	stepStart = time.Now()
	v, err := validator.New()
	if err != nil {
		return nil, fmt.Errorf("initialize validator: %w", err)
	}
	err = v.Validate(result.Tables)
	timing.Stage("validate", stepStart, err, stageStats{})
	if err != nil {
		return nil, err
	}

	// 5. Policy
	if !rw.NoPolicy {
		stepStart = time.Now()
		res, err := rw.evaluate(ctx, cfg, result)
		if err != nil {
			timing.Stage("policy", stepStart, err, stageStats{})
			return nil, err
		}
		timing.Stage("policy", stepStart, nil, stageStats{Violations: res.Summary.TotalViolations})
		result.Policy = res
		rw.report(res)
		if res.Summary.Errors > 0 {
			return nil, fmt.Errorf("%w: %d error(s)", ErrPolicy, res.Summary.Errors)
		}
	}

	var out bytes.Buffer
	if err := emit.Render(&out, emit.Document{
		Map:       m,
		Original:  prog.Text,
		Body:      body,
		Signature: cfg.Signature,
	}); err != nil {
		return nil, err
	}
	result.Output = out.String()
	return result, nil
}

func (rw *Rewriter) evaluate(ctx context.Context, cfg *config.Config, result *Result) (*policy.Result, error) {
	var (
		engine *policy.Engine
		err    error
	)
	if cfg.Lint.PolicyDir != "" {
		engine, err = policy.NewFromDir(cfg.Lint.PolicyDir)
	} else {
		engine, err = policy.New()
	}
	if err != nil {
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}

	input := policy.NewInput(result.Tables, result.Leftovers, policy.Budget{
		MaxPacketFields: cfg.Budget.MaxPacketFields,
		MaxStateFields:  cfg.Budget.MaxStateFields,
	})
	res, err := engine.Evaluate(ctx, input, cfg)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	return res, nil
}

func (rw *Rewriter) report(res *policy.Result) {
	if len(res.Violations) == 0 {
		return
	}
	w := rw.stderr()
	fmt.Fprintf(w, "\n=== Policy Violations ===\n")
	for _, v := range res.Violations {
		icon := "ℹ"
		if v.Severity == "error" {
			icon = "✗"
		} else if v.Severity == "warning" {
			icon = "⚠"
		}
		fmt.Fprintf(w, "%s [%s] %s:%d - %s\n", icon, v.Rule, v.File, v.Line, v.Message)
	}
	fmt.Fprintf(w, "\n=== Policy Summary ===\n")
	fmt.Fprintf(w, "  Errors:   %d\n", res.Summary.Errors)
	fmt.Fprintf(w, "  Warnings: %d\n", res.Summary.Warnings)
	fmt.Fprintf(w, "  Info:     %d\n", res.Summary.Info)
}

// write emits the rewritten program, then the manifest and delta. A failed
// program write leaves no side files behind.
func (rw *Rewriter) write(result *Result, delta *manifest.Delta) error {
	if err := os.WriteFile(rw.OutputPath(), []byte(result.Output), 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if rw.ManifestPath != "" {
		if err := manifest.WriteJSON(rw.ManifestPath, result.Tables); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	if delta != nil {
		if rw.DeltaOut != "" {
			if err := manifest.WriteJSON(rw.DeltaOut, delta); err != nil {
				return fmt.Errorf("writing delta: %w", err)
			}
		} else if err := writeJSON(rw.stdout(), delta); err != nil {
			return fmt.Errorf("writing delta: %w", err)
		}
	}
	return nil
}

// crossCheck compares the brace lines found by preprocessing with the
// function_definition the C grammar reports for the same keyword.
func crossCheck(ctx context.Context, data []byte, keyword string, prog *preprocess.Program) error {
	if keyword == "" {
		keyword = config.DefaultFunctionKeyword
	}
	fn, err := locate.New().Locate(ctx, data, keyword)
	if err != nil {
		return fmt.Errorf("tree-sitter locator: %w", err)
	}
	if fn.OpenLine != prog.OpenLine || fn.CloseLine != prog.CloseLine {
		return fmt.Errorf("%w: braces on lines %d-%d, tree-sitter reports %d-%d",
			ErrLocatorMismatch, prog.OpenLine, prog.CloseLine, fn.OpenLine, fn.CloseLine)
	}
	return nil
}

// leftoverRows maps leftover offsets in the substituted body to source
// lines. Substitution never adds or removes newlines, so counting them from
// the opening brace is exact.
func leftoverRows(m *rename.Map, body string, openLine int) []policy.Leftover {
	var rows []policy.Leftover
	for _, l := range rename.Leftovers(m, body) {
		rows = append(rows, policy.Leftover{
			Identifier: l.Identifier,
			Line:       openLine + strings.Count(body[:l.Offset], "\n"),
		})
	}
	return rows
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return ""
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
