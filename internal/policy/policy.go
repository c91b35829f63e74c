package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/manifest"
)

//go:embed rules/*.rego
var rulesFS embed.FS

// Query selects the violation set produced by the rule modules.
const Query = "data.skrewrite.rules.violations"

// Rule names produced by the built-in rules.
const (
	RulePacketFieldBudget  = "packet_field_budget"
	RuleStateFieldBudget   = "state_field_budget"
	RuleNonNumericConstant = "non_numeric_constant"
	RuleLeftoverIdentifier = "leftover_identifier"
	RuleEmptyBody          = "empty_body"
)

// KnownRules lists every built-in rule name.
var KnownRules = []string{
	RulePacketFieldBudget,
	RuleStateFieldBudget,
	RuleNonNumericConstant,
	RuleLeftoverIdentifier,
	RuleEmptyBody,
}

// Engine evaluates OPA policies against a rewrite
type Engine struct {
	query rego.PreparedEvalQuery
}

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation
	Summary    Summary
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Input is the data structure passed to OPA
type Input struct {
	Source       string               `json:"source"`
	Function     manifest.FunctionRow `json:"function"`
	Constants    []manifest.Row       `json:"constants"`
	PacketFields []manifest.Row       `json:"packet_fields"`
	StateFields  []manifest.Row       `json:"state_fields"`
	Leftovers    []Leftover           `json:"leftovers"`
	Budget       Budget               `json:"budget"`
}

// Leftover is an original identifier still present after substitution.
type Leftover struct {
	Identifier string `json:"identifier"`
	Line       int    `json:"line"`
}

// Budget mirrors the field limits of the target pipeline. Zero disables a limit.
type Budget struct {
	MaxPacketFields int `json:"max_packet_fields"`
	MaxStateFields  int `json:"max_state_fields"`
}

// SeverityConfig resolves configured rule severities. *config.Config
// satisfies it.
type SeverityConfig interface {
	IsRuleEnabled(rule string) bool
	GetRuleSeverity(rule string, defaultSeverity string) string
}

// NewInput builds the policy input from manifest tables.
func NewInput(tables manifest.Tables, leftovers []Leftover, budget Budget) Input {
	if leftovers == nil {
		leftovers = []Leftover{}
	}
	return Input{
		Source:       tables.Source,
		Function:     tables.Function,
		Constants:    tables.Constants,
		PacketFields: tables.PacketFields,
		StateFields:  tables.StateFields,
		Leftovers:    leftovers,
		Budget:       budget,
	}
}

// New creates a policy engine from the built-in rules.
func New() (*Engine, error) {
	sub, err := fs.Sub(rulesFS, "rules")
	if err != nil {
		return nil, fmt.Errorf("opening embedded rules: %w", err)
	}
	return newEngine(sub, "embedded")
}

// NewFromDir creates a policy engine, loading policies from the given directory
func NewFromDir(policyDir string) (*Engine, error) {
	return newEngine(os.DirFS(policyDir), policyDir)
}

func newEngine(fsys fs.FS, origin string) (*Engine, error) {
	files, err := fs.Glob(fsys, "*.rego")
	if err != nil {
		return nil, fmt.Errorf("finding policy files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", origin)
	}

	var opts []func(*rego.Rego)
	for _, f := range files {
		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		opts = append(opts, rego.Module(filepath.Join(origin, f), string(content)))
	}

	opts = append(opts, rego.Query(Query))
	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("preparing violations query: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate runs the policies against the input data. Configured severities
// replace the rule defaults and rules set to "off" are dropped; cfg may be nil.
func (e *Engine) Evaluate(ctx context.Context, input Input, cfg SeverityConfig) (*Result, error) {
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	result := &Result{Violations: []Violation{}}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				violation := Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					File:     input.Source,
					Line:     getInt(vmap, "line"),
					Message:  getString(vmap, "message"),
				}
				if cfg != nil {
					if !cfg.IsRuleEnabled(violation.Rule) {
						continue
					}
					violation.Severity = cfg.GetRuleSeverity(violation.Rule, violation.Severity)
				}
				result.Violations = append(result.Violations, violation)
			}
		}
	}

	sort.Slice(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
	result.Summary = summarize(result.Violations)
	return result, nil
}

func summarize(violations []Violation) Summary {
	s := Summary{TotalViolations: len(violations)}
	for _, v := range violations {
		switch v.Severity {
		case "error":
			s.Errors++
		case "warning":
			s.Warnings++
		case "info":
			s.Info++
		}
	}
	return s
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
