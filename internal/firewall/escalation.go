package firewall

import (
	"context"
	"fmt"
	"time"

	"groupguard/internal/domain"
	"groupguard/internal/firewall/history"
)

// EscalationTracker records violations per rule and user and selects
// escalated actions once a step's threshold is reached.
type EscalationTracker struct {
	store history.Store
}

func NewEscalationTracker(store history.Store) *EscalationTracker {
	if store == nil {
		store = history.NewMemStore()
	}
	return &EscalationTracker{store: store}
}

func historyKey(ruleID string, userID int64) string {
	return fmt.Sprintf("%s:%d", ruleID, userID)
}

// RegisterViolation appends ts to the rule+user history, trims it to the
// retention window and returns what is left.
func (t *EscalationTracker) RegisterViolation(ctx context.Context, ruleID string, userID int64, ts time.Time) ([]time.Time, error) {
	return t.store.Append(ctx, historyKey(ruleID, userID), ts, history.Retention)
}

// Apply registers the violation and returns the translated actions of the
// last step, in declaration order, whose threshold is met within its window.
// Labels carry an "escalate:" prefix. An empty translation means no step
// fired.
func (t *EscalationTracker) Apply(ctx context.Context, ruleID string, userID int64, esc *domain.Escalation, tc TranslateContext, ev *domain.Event, ts time.Time) (Translation, error) {
	entries, err := t.RegisterViolation(ctx, ruleID, userID, ts)
	if err != nil {
		return Translation{}, err
	}
	if esc == nil || len(esc.Steps) == 0 {
		return Translation{}, nil
	}

	var selected []domain.Action
	fired := false
	for _, step := range esc.Steps {
		from := ts.Add(-time.Duration(step.WindowSeconds) * time.Second)
		if countBetween(entries, from, ts) >= step.Threshold {
			selected = step.Actions
			fired = true
		}
	}
	if !fired {
		return Translation{}, nil
	}

	if esc.ResetAfterSeconds != nil {
		cutoff := ts.Add(-time.Duration(*esc.ResetAfterSeconds) * time.Second)
		if err := t.store.PruneBefore(ctx, historyKey(ruleID, userID), cutoff); err != nil {
			return Translation{}, err
		}
	}

	out := TranslateActions(selected, tc, ev, userID, ts)
	for i, l := range out.Labels {
		out.Labels[i] = "escalate:" + l
	}
	return out, nil
}

func countBetween(entries []time.Time, from, to time.Time) int {
	n := 0
	for _, e := range entries {
		if !e.Before(from) && !e.After(to) {
			n++
		}
	}
	return n
}
