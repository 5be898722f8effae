package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupguard/internal/domain"
)

func (s *SQLiteStore) SaveModeration(ctx context.Context, rec domain.ModerationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	metadata, err := encodeMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO moderation_records (id, chat_id, rule_id, user_id, actions, reason, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChatID, rec.RuleID, rec.UserID, string(actions), rec.Reason, metadata, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save moderation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRuleAudit(ctx context.Context, audit domain.RuleAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
	payload, err := encodeMap(audit.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rule_audits (id, chat_id, rule_id, offender_id, summary, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		audit.ID, audit.ChatID, audit.RuleID, audit.OffenderID, audit.Summary, payload, audit.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save rule audit: %w", err)
	}
	return nil
}

// ListModeration returns the most recent moderation records of a chat,
// newest first.
func (s *SQLiteStore) ListModeration(ctx context.Context, chatID int64, limit int) ([]domain.ModerationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, rule_id, user_id, actions, reason, metadata, created_at
		 FROM moderation_records WHERE chat_id = ?
		 ORDER BY created_at DESC LIMIT ?`, chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ModerationRecord
	for rows.Next() {
		var (
			r        domain.ModerationRecord
			actions  string
			reason   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.RuleID, &r.UserID, &actions, &reason, &metadata, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, fmt.Errorf("record %s actions: %w", r.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("record %s metadata: %w", r.ID, err)
			}
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// CountRuleAudits returns how many audits a rule has produced.
func (s *SQLiteStore) CountRuleAudits(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_audits WHERE rule_id = ?`, ruleID).Scan(&n)
	return n, err
}

func encodeMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
