package threshold

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Rule is one threshold definition as written in a rules file.
type Rule struct {
	Metric   string  `yaml:"metric"`
	Scope    string  `yaml:"scope"`
	Mode     string  `yaml:"mode"`
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
	Budget   float64 `yaml:"budget,omitempty"`
}

type rulesFile struct {
	Thresholds []Rule `yaml:"thresholds"`
}

// LoadRules reads a YAML rules file. A file whose thresholds list is empty
// loads as zero rules; removing the last threshold leaves the file in that
// state.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	return f.Thresholds, nil
}

// SaveRules writes a YAML rules file, creating parent directories as needed.
func SaveRules(path string, rules []Rule) error {
	data, err := yaml.Marshal(rulesFile{Thresholds: rules})
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rules file %s: %w", path, err)
	}
	return nil
}

// ApplyRules configures every rule in order. The first invalid rule aborts.
func (r *Registry) ApplyRules(rules []Rule) error {
	for i, rule := range rules {
		mode := model.ComparisonMode(rule.Mode)
		if rule.Mode == "" {
			mode = model.CompareAbsolute
		}
		_, err := r.Configure(rule.Metric, model.Scope(rule.Scope), mode, rule.Warning, rule.Critical, rule.Budget)
		if err != nil {
			return fmt.Errorf("rule %d (%s/%s): %w", i+1, rule.Metric, rule.Scope, err)
		}
	}
	return nil
}
