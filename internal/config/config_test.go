package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FunctionKeyword != "func" || cfg.Aggregate != "state_and_packet" || cfg.Output != "result.sk" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Check(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
}

func TestLoadFileJSONAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sk_rewrite.json")
	body := `{"aggregate": "sp", "budget": {"maxPacketFields": 4}, "lint": {"rules": {"empty_body": "off"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.FunctionKeyword != "func" {
		t.Fatalf("keyword default not applied: %q", cfg.FunctionKeyword)
	}
	if cfg.Signature != "|StateAndPacket| program (|StateAndPacket| sp)" {
		t.Fatalf("signature should follow the aggregate, got %q", cfg.Signature)
	}
	if cfg.Budget.MaxPacketFields != 4 {
		t.Fatalf("budget not loaded: %+v", cfg.Budget)
	}
	if cfg.IsRuleEnabled("empty_body") {
		t.Fatalf("empty_body should be disabled")
	}
	if !cfg.IsRuleEnabled("leftover_identifier") {
		t.Fatalf("unconfigured rules are enabled by default")
	}
	if got := cfg.GetRuleSeverity("packet_field_budget", "error"); got != "error" {
		t.Fatalf("default severity not returned: %q", got)
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sk_rewrite.yaml")
	body := "functionKeyword: program\nrewrite:\n  substitution: substring\n  keywords: [return, while]\ninput:\n  encoding: latin1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.FunctionKeyword != "program" || cfg.Rewrite.Substitution != "substring" {
		t.Fatalf("yaml not decoded: %+v", cfg)
	}
	if len(cfg.Rewrite.Keywords) != 2 || cfg.Input.Encoding != "latin1" {
		t.Fatalf("yaml lists not decoded: %+v", cfg)
	}
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"substitution", `{"rewrite": {"substitution": "regex"}}`},
		{"locator", `{"rewrite": {"locator": "clang"}}`},
		{"severity", `{"lint": {"rules": {"empty_body": "fatal"}}}`},
		{"budget", `{"budget": {"maxStateFields": -1}}`},
		{"encoding", `{"input": {"encoding": "ebcdic"}}`},
		{"syntax", `{"aggregate": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sk_rewrite.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCheckAcceptsSupportedEncodings(t *testing.T) {
	for _, enc := range []string{"utf-8", "latin1", "windows-1252", "iso-8859-15"} {
		cfg := DefaultConfig()
		cfg.Input.Encoding = enc
		if err := cfg.Check(); err != nil {
			t.Errorf("encoding %q: %v", enc, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cfg.json", "cfg.yaml"} {
		path := filepath.Join(dir, name)
		cfg := DefaultConfig()
		cfg.Budget.MaxStateFields = 3
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		loaded, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile %s: %v", name, err)
		}
		if loaded.Budget.MaxStateFields != 3 || loaded.Signature != DefaultSignature {
			t.Fatalf("%s: round trip lost values: %+v", name, loaded)
		}
	}
}

func TestLoadFindsConfigNextToInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "prog.c")
	if err := os.WriteFile(filepath.Join(dir, "sk_rewrite.json"), []byte(`{"output": "out.sk"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(input)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "out.sk" {
		t.Fatalf("expected config next to input, got output %q", cfg.Output)
	}
}
