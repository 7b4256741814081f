// Package config loads the static configuration document (§6) the core
// reads at process start: per-stage model configuration, the LLM endpoint,
// retry budgets, and app/path mappings. No environment variables are read
// by the core itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Document is the root configuration object.
	Document struct {
		Stages      map[string]StageConfig `yaml:"stages"`
		APIEndpoint APIEndpointConfig       `yaml:"apiEndpoint"`
		Retry       RetryConfig             `yaml:"retry"`
		Apps        map[string]string       `yaml:"apps"`
		Paths       map[string]string       `yaml:"paths"`
		ShellMap    map[string]string       `yaml:"shellCommandMap"`
	}

	// StageConfig configures a single pipeline stage's LLM usage (mode
	// routing, planning, tool planning, verification, replanning).
	StageConfig struct {
		// Provider selects the llm.Client adapter: "http" (generic contract),
		// "anthropic", "openai", or "bedrock". Defaults to "http".
		Provider     string        `yaml:"provider"`
		Model        string        `yaml:"model"`
		FallbackModel string       `yaml:"fallbackModel"`
		Temperature  float64       `yaml:"temperature"`
		MaxTokens    int           `yaml:"maxTokens"`
		Timeout      time.Duration `yaml:"timeout"`
		// Priority is a per-stage priority value carried in the document.
		// No component reads it: llm.RateLimiter serves callers without
		// any priority ordering.
		Priority int `yaml:"priority"`
	}

	// APIEndpointConfig configures the generic HTTP LLM endpoint.
	APIEndpointConfig struct {
		Primary     string `yaml:"primary"`
		Fallback    string `yaml:"fallback"`
		UseFallback bool   `yaml:"useFallback"`
	}

	// RetryConfig configures the retry budgets referenced throughout §4.
	RetryConfig struct {
		ItemExecutionMaxAttempts int           `yaml:"itemExecutionMaxAttempts"`
		ReplanningMaxAttempts    int           `yaml:"replanningMaxAttempts"`
		ToolPlanningMaxAttempts  int           `yaml:"toolPlanningMaxAttempts"`
		ToolPlanningRetryDelay   time.Duration `yaml:"toolPlanningRetryDelay"`
		MaxBlockedChecks         int           `yaml:"maxBlockedChecks"`
		MaxNewItemsPerReplan     int           `yaml:"maxNewItemsPerReplan"`
	}
)

// Default returns the configuration document's baked-in defaults, matching
// the literal constants named throughout spec.md (N=2 self-correction
// rounds is enforced in package schema, not here; R=3 LLM retries in
// package llm; M=3 replanning rounds and the 10-check blocked bound below).
func Default() Document {
	return Document{
		Stages: map[string]StageConfig{
			"mode_router":   {Provider: "http", Temperature: 0.0, MaxTokens: 256, Timeout: 30 * time.Second, Priority: 5},
			"planner":       {Provider: "http", Temperature: 0.2, MaxTokens: 2048, Timeout: 60 * time.Second, Priority: 5},
			"provider_select": {Provider: "http", Temperature: 0.0, MaxTokens: 512, Timeout: 30 * time.Second, Priority: 4},
			"tool_planner":  {Provider: "http", Temperature: 0.1, MaxTokens: 1024, Timeout: 60 * time.Second, Priority: 6},
			"verifier":      {Provider: "http", Temperature: 0.0, MaxTokens: 512, Timeout: 60 * time.Second, Priority: 8},
			"replanner":     {Provider: "http", Temperature: 0.2, MaxTokens: 1024, Timeout: 90 * time.Second, Priority: 8},
			"memory_filter": {Provider: "http", Temperature: 0.0, MaxTokens: 128, Timeout: 15 * time.Second, Priority: 2},
		},
		Retry: RetryConfig{
			ItemExecutionMaxAttempts: 1,
			ReplanningMaxAttempts:    3,
			ToolPlanningMaxAttempts:  3,
			ToolPlanningRetryDelay:   500 * time.Millisecond,
			MaxBlockedChecks:         10,
			MaxNewItemsPerReplan:     8,
		},
	}
}

// Load reads and parses a YAML configuration document from path on top of
// Default(). Retry fields and whole stages that the file does not mention
// keep their default values; a stage the file does list is decoded from
// scratch, so any of its fields the file omits are zero rather than taken
// from that stage's default.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	doc := Default()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return doc, nil
}

// Stage returns the named stage's configuration, or a zero StageConfig and
// false if it is not present.
func (d Document) Stage(name string) (StageConfig, bool) {
	s, ok := d.Stages[name]
	return s, ok
}
