package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/source"
)

// Config is the top-level configuration for sk-rewrite
type Config struct {
	// FunctionKeyword marks the line where the target function starts
	FunctionKeyword string `json:"functionKeyword,omitempty" yaml:"functionKeyword,omitempty"`

	// Aggregate is the single parameter every canonical name hangs off
	Aggregate string `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`

	// Signature is the header of the rewritten function
	Signature string `json:"signature,omitempty" yaml:"signature,omitempty"`

	// Output is the path of the rewritten program
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Rewrite contains identifier and substitution options
	Rewrite RewriteConfig `json:"rewrite,omitempty" yaml:"rewrite,omitempty"`

	// Input contains source decoding options
	Input InputConfig `json:"input,omitempty" yaml:"input,omitempty"`

	// Budget limits the number of fields the target can hold
	Budget BudgetConfig `json:"budget,omitempty" yaml:"budget,omitempty"`

	// Lint contains rule configuration
	Lint LintConfig `json:"lint,omitempty" yaml:"lint,omitempty"`
}

// RewriteConfig controls identifier handling
type RewriteConfig struct {
	// Substitution is "token" (whole identifiers only) or "substring"
	Substitution string `json:"substitution,omitempty" yaml:"substitution,omitempty"`

	// Keywords are extra words that are never renamed, on top of "if" and
	// anything starting with "else"
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// Locator is "lexical" (brace counting) or "treesitter" (brace counting
	// cross-checked against the C grammar)
	Locator string `json:"locator,omitempty" yaml:"locator,omitempty"`
}

// InputConfig controls how the source file is read
type InputConfig struct {
	// Encoding of the source file: "utf-8", "latin1", "windows-1252"
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// BudgetConfig mirrors the resources of the target pipeline (0 = unlimited)
type BudgetConfig struct {
	// MaxPacketFields is the number of packet fields one stage can process
	MaxPacketFields int `json:"maxPacketFields,omitempty" yaml:"maxPacketFields,omitempty"`

	// MaxStateFields is the number of state groups available
	MaxStateFields int `json:"maxStateFields,omitempty" yaml:"maxStateFields,omitempty"`
}

// LintConfig contains rule configuration
type LintConfig struct {
	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty"`

	// PolicyDir loads .rego files from a directory instead of the built-in rules
	PolicyDir string `json:"policyDir,omitempty" yaml:"policyDir,omitempty"`
}

const (
	DefaultFunctionKeyword = "func"
	DefaultAggregate       = "state_and_packet"
	DefaultSignature       = "|StateAndPacket| program (|StateAndPacket| state_and_packet)"
	DefaultOutput          = "result.sk"

	LocatorLexical    = "lexical"
	LocatorTreeSitter = "treesitter"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		FunctionKeyword: DefaultFunctionKeyword,
		Aggregate:       DefaultAggregate,
		Signature:       DefaultSignature,
		Output:          DefaultOutput,
		Rewrite: RewriteConfig{
			Substitution: "token",
			Keywords:     []string{},
			Locator:      LocatorLexical,
		},
		Input: InputConfig{
			Encoding: "utf-8",
		},
		Lint: LintConfig{
			Rules: map[string]string{},
		},
	}
}

// Load finds and loads the configuration file
// Search order:
//  1. ./sk_rewrite.json, ./.sk_rewrite.json, ./sk_rewrite.yaml (current working directory)
//  2. the same names next to the input file (if in a different directory)
//  3. ~/.config/sk_rewrite/config.json
//
// Returns DefaultConfig if no config file is found
func Load(inputPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	names := []string{"sk_rewrite.json", ".sk_rewrite.json", "sk_rewrite.yaml"}
	var searchPaths []string
	for _, name := range names {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	// If the input lives elsewhere, also check its directory
	if inputPath != "" {
		absDir, _ := filepath.Abs(filepath.Dir(inputPath))
		if absDir != cwd {
			for _, name := range names {
				searchPaths = append(searchPaths, filepath.Join(absDir, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "sk_rewrite", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. Files ending in .yaml
// or .yml are decoded as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.FunctionKeyword == "" {
		c.FunctionKeyword = DefaultFunctionKeyword
	}
	if c.Aggregate == "" {
		c.Aggregate = DefaultAggregate
	}
	if c.Signature == "" {
		c.Signature = "|StateAndPacket| program (|StateAndPacket| " + c.Aggregate + ")"
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Rewrite.Substitution == "" {
		c.Rewrite.Substitution = "token"
	}
	if c.Rewrite.Locator == "" {
		c.Rewrite.Locator = LocatorLexical
	}
	if c.Input.Encoding == "" {
		c.Input.Encoding = "utf-8"
	}
	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}
}

// Check rejects values the rewriter cannot act on
func (c *Config) Check() error {
	switch c.Rewrite.Substitution {
	case "token", "substring":
	default:
		return fmt.Errorf("rewrite.substitution must be token or substring, got %q", c.Rewrite.Substitution)
	}
	switch c.Rewrite.Locator {
	case LocatorLexical, LocatorTreeSitter:
	default:
		return fmt.Errorf("rewrite.locator must be %s or %s, got %q", LocatorLexical, LocatorTreeSitter, c.Rewrite.Locator)
	}
	if _, err := source.LookupEncoding(c.Input.Encoding); err != nil {
		return fmt.Errorf("input.encoding: %w", err)
	}
	if c.Budget.MaxPacketFields < 0 || c.Budget.MaxStateFields < 0 {
		return fmt.Errorf("budget limits must not be negative")
	}
	for rule, severity := range c.Lint.Rules {
		switch severity {
		case "off", "info", "warning", "error":
		default:
			return fmt.Errorf("rule %s: unknown severity %q", rule, severity)
		}
	}
	return nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true // enabled by default
}
