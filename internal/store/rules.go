package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupguard/internal/domain"
)

const ruleColumns = `id, scope, chat_id, name, description, enabled, priority, match_all, severity,
	conditions, actions, escalation, created_at, updated_at`

// ListRules returns the group rules of chatID plus every global rule,
// enabled or not.
func (s *SQLiteStore) ListRules(ctx context.Context, chatID int64) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules
		 WHERE scope = 'global' OR (scope = 'group' AND chat_id = ?)
		 ORDER BY priority, id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *SQLiteStore) ListAllRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpsertRule inserts or replaces a rule. An empty ID is assigned a UUID.
func (s *SQLiteStore) UpsertRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Scope == domain.ScopeGlobal {
		rule.ChatID = 0
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("encode actions: %w", err)
	}
	var escalation sql.NullString
	if rule.Escalation != nil {
		b, err := json.Marshal(rule.Escalation)
		if err != nil {
			return domain.Rule{}, fmt.Errorf("encode escalation: %w", err)
		}
		escalation = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (id, scope, chat_id, name, description, enabled, priority, match_all, severity,
			conditions, actions, escalation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			scope=excluded.scope, chat_id=excluded.chat_id, name=excluded.name,
			description=excluded.description, enabled=excluded.enabled, priority=excluded.priority,
			match_all=excluded.match_all, severity=excluded.severity, conditions=excluded.conditions,
			actions=excluded.actions, escalation=excluded.escalation, updated_at=excluded.updated_at`,
		rule.ID, string(rule.Scope), rule.ChatID, rule.Name, rule.Description, rule.Enabled,
		rule.Priority, rule.MatchAll, rule.Severity, string(conditions), string(actions), escalation,
		now, now,
	)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}

	saved, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return domain.Rule{}, err
	}
	return *saved, nil
}

// DeleteRule removes a rule and returns what was removed so callers can
// invalidate caches for its scope.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete rule %s: %w", id, err)
	}
	return rule, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.Rule, error) {
	var (
		r                   domain.Rule
		scope               string
		description         sql.NullString
		conditions, actions string
		escalation          sql.NullString
	)
	if err := row.Scan(&r.ID, &scope, &r.ChatID, &r.Name, &description, &r.Enabled, &r.Priority,
		&r.MatchAll, &r.Severity, &conditions, &actions, &escalation, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Rule{}, err
	}
	r.Scope = domain.RuleScope(scope)
	r.Description = description.String

	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return domain.Rule{}, fmt.Errorf("rule %s conditions: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return domain.Rule{}, fmt.Errorf("rule %s actions: %w", r.ID, err)
	}
	if escalation.Valid && escalation.String != "" {
		var esc domain.Escalation
		if err := json.Unmarshal([]byte(escalation.String), &esc); err != nil {
			return domain.Rule{}, fmt.Errorf("rule %s escalation: %w", r.ID, err)
		}
		r.Escalation = &esc
	}
	return r, nil
}

func scanRules(rows *sql.Rows) ([]domain.Rule, error) {
	var rules []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
