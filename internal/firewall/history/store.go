// Package history keeps rolling per-rule, per-user violation timestamps for
// escalation.
package history

import (
	"context"
	"time"
)

// Retention is how long violations are kept.
const Retention = 24 * time.Hour

// Store is a rolling log of violation timestamps keyed by "ruleID:userID".
type Store interface {
	// Append records ts, drops entries older than ts-retain and returns the
	// remaining history in ascending order. The three steps are atomic per key.
	Append(ctx context.Context, key string, ts time.Time, retain time.Duration) ([]time.Time, error)
	// PruneBefore drops entries older than cutoff.
	PruneBefore(ctx context.Context, key string, cutoff time.Time) error
}
