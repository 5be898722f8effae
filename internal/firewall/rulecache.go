package firewall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"groupguard/internal/domain"
	"groupguard/internal/metrics"
)

// DefaultRuleCacheTTL is used when no TTL is configured.
const DefaultRuleCacheTTL = 45 * time.Second

// RuleCache keeps the enabled rules of each chat, sorted by (priority, id),
// for a fixed TTL.
type RuleCache struct {
	repo    domain.RuleRepository
	entries *expirable.LRU[int64, []domain.Rule]
}

// NewRuleCache creates a cache in front of repo. A non-positive ttl selects
// DefaultRuleCacheTTL.
func NewRuleCache(repo domain.RuleRepository, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &RuleCache{
		repo:    repo,
		entries: expirable.NewLRU[int64, []domain.Rule](0, nil, ttl),
	}
}

// Load returns the enabled rules that apply to chatID: its group rules and
// every global rule. The returned slice must not be modified.
func (c *RuleCache) Load(ctx context.Context, chatID int64) ([]domain.Rule, error) {
	if rules, ok := c.entries.Get(chatID); ok {
		metrics.CacheLookups.WithLabelValues("rules", "hit").Inc()
		return rules, nil
	}
	metrics.CacheLookups.WithLabelValues("rules", "miss").Inc()

	all, err := c.repo.ListRules(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load rules for chat %d: %w", chatID, err)
	}

	rules := make([]domain.Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sortRules(rules)

	c.entries.Add(chatID, rules)
	return rules, nil
}

// Invalidate drops the cached rules of one chat.
func (c *RuleCache) Invalidate(chatID int64) {
	c.entries.Remove(chatID)
}

// InvalidateAll drops every cached entry. Used when a global rule changes.
func (c *RuleCache) InvalidateAll() {
	c.entries.Purge()
}

// Reset clears the cache. Intended for tests.
func (c *RuleCache) Reset() {
	c.entries.Purge()
}

func sortRules(rules []domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
