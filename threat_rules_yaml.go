package apisec

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []SecurityRule `yaml:"rules"`
}

// LoadRulesFile parses one YAML rule file. Invalid rules are skipped with
// a warning rather than failing the load; a file that cannot be read or
// parsed at all returns an error.
func LoadRulesFile(path string, logger *slog.Logger) ([]SecurityRule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	rules := make([]SecurityRule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		if err := validateRule(r); err != nil {
			logger.Warn("skipping invalid rule",
				slog.String("file", path),
				slog.String("rule_id", r.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !r.Enabled {
			logger.Info("loaded disabled rule",
				slog.String("file", path),
				slog.String("rule_id", r.ID))
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadRulesDir loads every .yaml/.yml file in dir, in lexical order so
// rule precedence is deterministic across restarts.
func LoadRulesDir(dir string, logger *slog.Logger) ([]SecurityRule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var rules []SecurityRule
	for _, p := range paths {
		loaded, err := LoadRulesFile(p, logger)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return rules, nil
}
