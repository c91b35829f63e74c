package rewriter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kr/pretty"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/config"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/emit"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/manifest"
	"github.com/robert-at-pretension-io/sk-rewrite/internal/preprocess"
)

const counterProgram = `#define MAX_COUNT 100
void func(struct Packet p) {
  if (p.proto == MAX_COUNT) {
    count[p.dst] = count[p.dst] + 1;
  }
}
`

const counterOutput = "// MAX_COUNT=100\n\n" +
	"// p.proto=state_and_packet.pkt_0\n\n" +
	"// count[p.dst]=state_and_packet.state_0\n\n" +
	"/*void func(struct Packet p) {\n  if (p.proto == MAX_COUNT) {\n    count[p.dst] = count[p.dst] + 1;\n  }\n}\n*/" +
	"\n\n" +
	emit.DefaultSignature +
	"{\n  if (state_and_packet.pkt_0 == 100) {\n    state_and_packet.state_0 = state_and_packet.state_0 + 1;\n  }\n" +
	" return state_and_packet;\n}\n"

func newTestRewriter(t *testing.T, cfg *config.Config) (*Rewriter, *bytes.Buffer) {
	t.Helper()
	t.Setenv(TimingEnv, "")
	t.Setenv("SK_TIMING", "")
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	rw := NewWithConfig(cfg)
	var stderr bytes.Buffer
	rw.Stderr = &stderr
	rw.Stdout = io.Discard
	rw.Output = filepath.Join(t.TempDir(), "result.sk")
	return rw, &stderr
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRewriteCounterProgram(t *testing.T) {
	rw, _ := newTestRewriter(t, nil)
	result, err := rw.Rewrite(context.Background(), "counter.c", []byte(counterProgram))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if result.Output != counterOutput {
		t.Fatalf("output mismatch:\ngot:\n%q\nwant:\n%q", result.Output, counterOutput)
	}
	if len(result.Leftovers) != 0 {
		t.Fatalf("unexpected leftovers %+v", result.Leftovers)
	}
	if result.Policy == nil || result.Policy.Summary.TotalViolations != 0 {
		t.Fatalf("expected clean policy result, got %# v", pretty.Formatter(result.Policy))
	}

	wantFn := manifest.FunctionRow{Keyword: "func", Aggregate: "state_and_packet", StartLine: 2, EndLine: 6}
	if diff := pretty.Diff(wantFn, result.Tables.Function); len(diff) > 0 {
		t.Fatalf("function row mismatch: %v", diff)
	}
	if result.Tables.Counts != (manifest.Counts{PacketFields: 1, StateFields: 1, Constants: 1}) {
		t.Fatalf("unexpected counts %+v", result.Tables.Counts)
	}
	if result.Tables.StateFields[0].Line != 4 {
		t.Fatalf("count[p.dst] first seen on line 4, got %d", result.Tables.StateFields[0].Line)
	}
}

func TestRunWritesOutputAndManifest(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "counter.c", counterProgram)

	rw, _ := newTestRewriter(t, nil)
	rw.ManifestPath = filepath.Join(dir, "manifest.json")
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := os.ReadFile(rw.OutputPath())
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(out) != counterOutput {
		t.Fatalf("output mismatch:\n%s", out)
	}

	tables, err := manifest.ReadTables(rw.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if tables.Source != input || len(tables.PacketFields) != 1 {
		t.Fatalf("unexpected manifest %+v", tables)
	}
}

func TestRunOverwritesOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "counter.c", counterProgram)
	rw, _ := newTestRewriter(t, nil)
	if err := os.WriteFile(rw.OutputPath(), []byte("stale contents that are longer than nothing"), 0o600); err != nil {
		t.Fatalf("write stale output: %v", err)
	}
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, _ := os.ReadFile(rw.OutputPath())
	if string(out) != counterOutput {
		t.Fatalf("stale output not replaced:\n%s", out)
	}
}

func TestRunWritesDelta(t *testing.T) {
	dir := t.TempDir()
	prevInput := writeSource(t, dir, "old.c", "void func(struct Packet p) {\n  p.proto = 1;\n}\n")

	rw, _ := newTestRewriter(t, nil)
	rw.ManifestPath = filepath.Join(dir, "old.json")
	if err := rw.Run(context.Background(), prevInput); err != nil {
		t.Fatalf("Run old: %v", err)
	}

	input := writeSource(t, dir, "counter.c", counterProgram)
	rw, _ = newTestRewriter(t, nil)
	rw.DeltaFrom = filepath.Join(dir, "old.json")
	rw.DeltaOut = filepath.Join(dir, "delta.json")
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run new: %v", err)
	}

	raw, err := os.ReadFile(rw.DeltaOut)
	if err != nil {
		t.Fatalf("read delta: %v", err)
	}
	var delta manifest.Delta
	if err := json.Unmarshal(raw, &delta); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(delta.Added.PacketFields) != 0 {
		t.Fatalf("p.proto keeps pkt_0, expected no packet additions: %+v", delta.Added.PacketFields)
	}
	if len(delta.Added.StateFields) != 1 || delta.Added.StateFields[0].Original != "count[p.dst]" {
		t.Fatalf("expected count[p.dst] added, got %+v", delta.Added.StateFields)
	}
	if len(delta.Added.Constants) != 1 || len(delta.Removed.Constants) != 0 {
		t.Fatalf("expected MAX_COUNT added, got %+v", delta)
	}
}

func TestRunMissingFunctionWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "empty.c", "#define X 1\nint main() { return 0; }\n")

	rw, _ := newTestRewriter(t, nil)
	rw.ManifestPath = filepath.Join(dir, "manifest.json")
	err := rw.Run(context.Background(), input)
	if !errors.Is(err, preprocess.ErrMissingFunction) {
		t.Fatalf("expected ErrMissingFunction, got %v", err)
	}
	for _, path := range []string{rw.OutputPath(), rw.ManifestPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s must not be written on failure", path)
		}
	}
}

func TestRunBudgetViolationWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "wide.c", "void func(struct Packet p) {\n  p.a = p.b + p.c;\n}\n")

	cfg := config.DefaultConfig()
	cfg.Budget.MaxPacketFields = 2

	rw, stderr := newTestRewriter(t, cfg)
	err := rw.Run(context.Background(), input)
	if !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
	if _, err := os.Stat(rw.OutputPath()); !os.IsNotExist(err) {
		t.Fatalf("output must not be written when policy fails")
	}
	if !strings.Contains(stderr.String(), "[packet_field_budget]") {
		t.Fatalf("violation not reported:\n%s", stderr.String())
	}
}

func TestRunBudgetRuleCanBeDowngraded(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "wide.c", "void func(struct Packet p) {\n  p.a = p.b + p.c;\n}\n")

	cfg := config.DefaultConfig()
	cfg.Budget.MaxPacketFields = 2
	cfg.Lint.Rules["packet_field_budget"] = "warning"

	rw, _ := newTestRewriter(t, cfg)
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(rw.OutputPath()); err != nil {
		t.Fatalf("expected output: %v", err)
	}
}

func TestRunNoPolicy(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "wide.c", "void func(struct Packet p) {\n  p.a = p.b + p.c;\n}\n")

	cfg := config.DefaultConfig()
	cfg.Budget.MaxPacketFields = 1
	rw, _ := newTestRewriter(t, cfg)
	rw.NoPolicy = true
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTreeSitterLocatorAgrees(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rewrite.Locator = config.LocatorTreeSitter
	rw, _ := newTestRewriter(t, cfg)
	result, err := rw.Rewrite(context.Background(), "counter.c", []byte(counterProgram))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if result.Output != counterOutput {
		t.Fatalf("tree-sitter mode must not change the output")
	}
}

func TestTreeSitterLocatorMismatch(t *testing.T) {
	src := "void func(struct Packet p) {\n  s = \"}\";\n  p.x = 1;\n}\n"
	cfg := config.DefaultConfig()
	cfg.Rewrite.Locator = config.LocatorTreeSitter
	rw, _ := newTestRewriter(t, cfg)
	_, err := rw.Rewrite(context.Background(), "quoted.c", []byte(src))
	if !errors.Is(err, ErrLocatorMismatch) {
		t.Fatalf("expected ErrLocatorMismatch, got %v", err)
	}
}

func TestCustomKeywordAndAggregate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FunctionKeyword = "program"
	cfg.Aggregate = "sp"
	cfg.Signature = ""
	cfg.Rewrite.Keywords = []string{"return"}
	rw, _ := newTestRewriter(t, cfg)

	src := "int program(struct Packet p) {\n  p.out = x;\n  return p.out;\n}\n"
	result, err := rw.Rewrite(context.Background(), "custom.c", []byte(src))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(result.Output, "{\n  sp.pkt_0 = sp.state_0;\n  return sp.pkt_0;\n return sp;\n}\n") {
		t.Fatalf("unexpected rewritten function:\n%s", result.Output)
	}
	if _, ok := result.Map.Lookup("return"); ok {
		t.Fatalf("configured keyword must not be renamed")
	}
}

func TestTimingJSONLWritten(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "counter.c", counterProgram)

	rw, _ := newTestRewriter(t, nil)
	rw.Timing = true
	rw.TimingPath = filepath.Join(dir, "timing.jsonl")
	if err := rw.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, err := os.ReadFile(rw.TimingPath)
	if err != nil {
		t.Fatalf("read timing file: %v", err)
	}
	stages := map[string]stageEvent{}
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		var ev stageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("parse timing event: %v", err)
		}
		if ev.Source != input {
			t.Fatalf("event %s has source %q, want %q", ev.Stage, ev.Source, input)
		}
		stages[ev.Stage] = ev
	}
	for _, stage := range []string{"read", "preprocess", "symbols", "substitute", "validate", "policy", "emit", "total"} {
		if _, ok := stages[stage]; !ok {
			t.Fatalf("missing %s timing event, got %v", stage, stages)
		}
	}

	want := map[string]stageStats{
		"read":       {Bytes: len(counterProgram)},
		"preprocess": {Lines: 5, Constants: 1},
		"symbols":    {Added: 2, PacketFields: 1, StateFields: 1},
		"emit":       {Bytes: len(counterOutput)},
		"total":      {Constants: 1, PacketFields: 1, StateFields: 1},
	}
	for stage, stats := range want {
		if diff := pretty.Diff(stats, stages[stage].stageStats); len(diff) > 0 {
			t.Errorf("%s stats mismatch: %v", stage, diff)
		}
	}
}

func TestRunOutputFailureWritesNoManifest(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "counter.c", counterProgram)

	rw, _ := newTestRewriter(t, nil)
	rw.Output = t.TempDir() // a directory cannot be written as a file
	rw.ManifestPath = filepath.Join(dir, "manifest.json")
	rw.DeltaOut = filepath.Join(dir, "delta.json")
	rw.DeltaFrom = rw.ManifestPath

	if err := manifest.WriteJSON(rw.ManifestPath, manifest.Tables{}); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}
	before, err := os.ReadFile(rw.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	err = rw.Run(context.Background(), input)
	if err == nil || !strings.Contains(err.Error(), "writing output") {
		t.Fatalf("expected output write error, got %v", err)
	}
	after, err := os.ReadFile(rw.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("manifest was rewritten after the output write failed")
	}
	if _, err := os.Stat(rw.DeltaOut); !os.IsNotExist(err) {
		t.Fatalf("delta must not be written, stat err = %v", err)
	}
}

func TestRewriteUnderscorePrefixedIdentifier(t *testing.T) {
	rw, _ := newTestRewriter(t, nil)
	src := "void func(struct Packet p) {\n  _tmp = p.a;\n  c = _tmp;\n}\n"
	result, err := rw.Rewrite(context.Background(), "tmp.c", []byte(src))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if tmp, ok := result.Map.Lookup("tmp"); !ok || tmp.Replacement != "state_and_packet.state_0" {
		t.Fatalf("tmp should be state_0, got %+v (bound=%v)", tmp, ok)
	}
	wantBody := "  _state_and_packet.state_0 = state_and_packet.pkt_0;\n  state_and_packet.state_1 = _state_and_packet.state_0;\n"
	if !strings.Contains(result.Output, wantBody) {
		t.Fatalf("output missing rewritten body:\n%s", result.Output)
	}
	if len(result.Leftovers) != 0 {
		t.Fatalf("unexpected leftovers %+v", result.Leftovers)
	}
}

func TestOutputPathPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	rw := NewWithConfig(cfg)
	if rw.OutputPath() != config.DefaultOutput {
		t.Fatalf("expected default output, got %s", rw.OutputPath())
	}
	cfg.Output = "from-config.sk"
	if rw.OutputPath() != "from-config.sk" {
		t.Fatalf("expected config output, got %s", rw.OutputPath())
	}
	rw.Output = "flag.sk"
	if rw.OutputPath() != "flag.sk" {
		t.Fatalf("expected flag output, got %s", rw.OutputPath())
	}
}
