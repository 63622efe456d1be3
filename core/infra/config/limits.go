package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snapconvert/snapconvert/core/infra/schema"
)

// FamilyLimits bounds inputs and execution time for one tool family.
type FamilyLimits struct {
	MaxInputBytes           int64 `yaml:"max_input_bytes" json:"max_input_bytes"`
	ExecutionTimeoutSeconds int64 `yaml:"execution_timeout_seconds" json:"execution_timeout_seconds"`
}

// SweepLimits configures the backstop sweep of stale working directories.
type SweepLimits struct {
	IntervalSeconds int64 `yaml:"interval_seconds" json:"interval_seconds"`
	MaxAgeSeconds   int64 `yaml:"max_age_seconds" json:"max_age_seconds"`
}

// LimitsConfig holds per-family ceilings plus sweep cadence.
type LimitsConfig struct {
	Families map[string]FamilyLimits `yaml:"families" json:"families"`
	Sweep    SweepLimits             `yaml:"sweep" json:"sweep"`
}

// DefaultLimits returns the ceilings used when no limits file is present.
func DefaultLimits() *LimitsConfig {
	return &LimitsConfig{
		Families: map[string]FamilyLimits{
			"pdf":   {MaxInputBytes: 50 << 20, ExecutionTimeoutSeconds: 120},
			"image": {MaxInputBytes: 20 << 20, ExecutionTimeoutSeconds: 60},
			"text":  {MaxInputBytes: 1 << 20, ExecutionTimeoutSeconds: 10},
			"util":  {MaxInputBytes: 1 << 20, ExecutionTimeoutSeconds: 10},
		},
		Sweep: SweepLimits{IntervalSeconds: 300, MaxAgeSeconds: 1800},
	}
}

// LoadLimits reads and validates the limits file. A missing file is not an
// error; defaults apply so a bare checkout still serves.
func LoadLimits(path string) (*LimitsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLimits(), nil
		}
		return nil, fmt.Errorf("read limits config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse limits config: %w", err)
	}
	schemaBytes, err := configSchemaFS.ReadFile(limitsSchemaFile)
	if err != nil {
		return nil, fmt.Errorf("read limits schema: %w", err)
	}
	if err := schema.ValidateSchema("limits", schemaBytes, normalizeYAML(raw)); err != nil {
		return nil, fmt.Errorf("invalid limits config: %w", err)
	}

	cfg := DefaultLimits()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode limits config: %w", err)
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		cfg.Sweep.IntervalSeconds = 300
	}
	if cfg.Sweep.MaxAgeSeconds <= 0 {
		cfg.Sweep.MaxAgeSeconds = 1800
	}
	return cfg, nil
}

// ForFamily returns the limits for a family, falling back to the text
// ceiling for unknown families so a misconfigured family is restrictive
// rather than unbounded.
func (c *LimitsConfig) ForFamily(family string) FamilyLimits {
	if lim, ok := c.Families[family]; ok {
		return lim
	}
	return FamilyLimits{MaxInputBytes: 1 << 20, ExecutionTimeoutSeconds: 10}
}

// Timeout returns the execution budget for a family as a duration.
func (c *LimitsConfig) Timeout(family string) time.Duration {
	return time.Duration(c.ForFamily(family).ExecutionTimeoutSeconds) * time.Second
}

// normalizeYAML converts yaml.v3 map[string]any trees into the shapes the
// JSON-schema validator expects (string keys all the way down).
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
