// Package rulefile reads and writes firewall rules as YAML documents so
// operators can keep policies under version control.
package rulefile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"groupguard/internal/domain"
)

// DefaultPriority is applied to rules that omit a priority.
const DefaultPriority = 100

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("groupguard/rulefile"))

type document struct {
	Rules []yaml.Node `yaml:"rules"`
}

type outDocument struct {
	Rules []domain.Rule `yaml:"rules"`
}

// Parse decodes a rules document. Omitted fields default to enabled, priority
// 100, and group scope when chatId is set (global otherwise). Every rule is
// validated.
func Parse(data []byte) ([]domain.Rule, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]domain.Rule, 0, len(doc.Rules))
	var errs []error
	for i := range doc.Rules {
		rule := domain.Rule{Enabled: true, Priority: DefaultPriority}
		if err := doc.Rules[i].Decode(&rule); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d] (line %d): %w", i, doc.Rules[i].Line, err))
			continue
		}
		if rule.Scope == "" {
			rule.Scope = domain.ScopeGlobal
			if rule.ChatID != 0 {
				rule.Scope = domain.ScopeGroup
			}
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d] (line %d): %w", i, doc.Rules[i].Line, err))
			continue
		}
		rules = append(rules, rule)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// LoadFile parses the rules document at path. Rules without an id get one
// derived from the file name and the rule name, so importing the same file
// again updates those rules instead of adding copies.
func LoadFile(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	assignIDs(filepath.Base(path), rules)
	return rules, nil
}

func assignIDs(file string, rules []domain.Rule) {
	seen := make(map[string]int)
	for i := range rules {
		if rules[i].ID != "" {
			continue
		}
		key := file + "/" + rules[i].Name
		if n := seen[key]; n > 0 {
			seen[key] = n + 1
			key = fmt.Sprintf("%s#%d", key, n)
		} else {
			seen[key] = 1
		}
		rules[i].ID = uuid.NewSHA1(idNamespace, []byte(key)).String()
	}
}

// LoadDirectory loads every .yaml/.yml file in dir. Files that fail to parse
// are logged and skipped.
func LoadDirectory(dir string, logger *slog.Logger) ([]domain.Rule, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rules directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var rules []domain.Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		loaded, err := LoadFile(path)
		if err != nil {
			logger.Warn("cannot load rule file", "path", path, "err", err)
			continue
		}
		logger.Info("loaded rule file", "path", path, "rules", len(loaded))
		rules = append(rules, loaded...)
	}
	return rules, nil
}

// Marshal encodes rules as a rules document.
func Marshal(rules []domain.Rule) ([]byte, error) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	return yaml.Marshal(outDocument{Rules: rules})
}

// WriteFile writes rules to path, creating parent directories.
func WriteFile(path string, rules []domain.Rule) error {
	data, err := Marshal(rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create rule file dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
