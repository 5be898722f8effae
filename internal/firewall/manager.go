package firewall

import (
	"context"
	"fmt"
	"log/slog"

	"groupguard/internal/domain"
)

// RuleManager mutates stored rules and keeps the RuleCache coherent: group
// rule writes invalidate that chat, global rule writes invalidate every chat.
type RuleManager struct {
	store  domain.RuleWriter
	cache  *RuleCache
	logger *slog.Logger
}

func NewRuleManager(store domain.RuleWriter, cache *RuleCache, logger *slog.Logger) *RuleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleManager{store: store, cache: cache, logger: logger}
}

func (m *RuleManager) List(ctx context.Context) ([]domain.Rule, error) {
	rules, err := m.store.ListAllRules(ctx)
	if err != nil {
		return nil, err
	}
	sortRules(rules)
	return rules, nil
}

func (m *RuleManager) Get(ctx context.Context, id string) (*domain.Rule, error) {
	return m.store.GetRule(ctx, id)
}

// Upsert validates and stores rule. A rule moved to another chat also
// invalidates the chat it left.
func (m *RuleManager) Upsert(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, err
	}

	var previous *domain.Rule
	if rule.ID != "" {
		prev, err := m.store.GetRule(ctx, rule.ID)
		if err == nil {
			previous = prev
		}
	}

	saved, err := m.store.UpsertRule(ctx, rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("upsert rule %q: %w", rule.Name, err)
	}

	if previous != nil {
		m.invalidate(*previous)
	}
	m.invalidate(saved)
	m.logger.Info("rule saved", "rule_id", saved.ID, "scope", saved.Scope, "chat_id", saved.ChatID)
	return saved, nil
}

func (m *RuleManager) Delete(ctx context.Context, id string) error {
	removed, err := m.store.DeleteRule(ctx, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	m.invalidate(*removed)
	m.logger.Info("rule deleted", "rule_id", id)
	return nil
}

func (m *RuleManager) SetEnabled(ctx context.Context, id string, enabled bool) (domain.Rule, error) {
	rule, err := m.store.GetRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.Enabled = enabled
	return m.Upsert(ctx, *rule)
}

func (m *RuleManager) invalidate(rule domain.Rule) {
	if m.cache == nil {
		return
	}
	if rule.Scope == domain.ScopeGlobal {
		m.cache.InvalidateAll()
		return
	}
	m.cache.Invalidate(rule.ChatID)
}
