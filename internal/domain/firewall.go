package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRuleNotFound         = errors.New("rule not found")
	ErrInvalidRule          = errors.New("invalid rule")
	ErrUnknownConditionKind = errors.New("unknown condition kind")
	ErrUnknownActionKind    = errors.New("unknown action kind")
)

type RuleScope string

const (
	ScopeGroup  RuleScope = "group"
	ScopeGlobal RuleScope = "global"
)

// Role is the sender's membership role inside a chat.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleRestricted Role = "restricted"
	RoleMember     Role = "member"
)

// Rule is a priority-ordered firewall policy unit.
type Rule struct {
	ID          string        `json:"id" yaml:"id"`
	Scope       RuleScope     `json:"scope" yaml:"scope"`
	ChatID      int64         `json:"chatId,omitempty" yaml:"chatId,omitempty"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Priority    int           `json:"priority" yaml:"priority"`
	MatchAll    bool          `json:"matchAll" yaml:"matchAll"`
	Severity    int           `json:"severity" yaml:"severity"`
	Conditions  ConditionList `json:"conditions" yaml:"conditions"`
	Actions     ActionList    `json:"actions" yaml:"actions"`
	Escalation  *Escalation   `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	CreatedAt   time.Time     `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt   time.Time     `json:"updatedAt,omitempty" yaml:"-"`
}

// Escalation swaps in stronger actions once a user keeps violating a rule.
type Escalation struct {
	Steps             []EscalationStep `json:"steps" yaml:"steps"`
	ResetAfterSeconds *int             `json:"resetAfterSeconds,omitempty" yaml:"resetAfterSeconds,omitempty"`
}

type EscalationStep struct {
	Threshold     int        `json:"threshold" yaml:"threshold"`
	WindowSeconds int        `json:"windowSeconds" yaml:"windowSeconds"`
	Actions       ActionList `json:"actions" yaml:"actions"`
}

type EventKind string

const (
	EventText  EventKind = "text"
	EventMedia EventKind = "media"
)

// Event is the normalized, evaluable form of one inbound message. It is
// built once per message and never persisted.
type Event struct {
	Kind          EventKind
	Text          string // empty when the message carries no text or caption
	TextLower     string
	MessageLength int
	MediaTypes    []string
	Domains       []string
	Timestamp     time.Time
}

// RuleRepository returns the group-scoped rules of a chat together with all
// global rules, regardless of their enabled state.
type RuleRepository interface {
	ListRules(ctx context.Context, chatID int64) ([]Rule, error)
}

// RuleWriter mutates stored rules.
type RuleWriter interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListAllRules(ctx context.Context) ([]Rule, error)
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, id string) (*Rule, error)
}

// MembershipLookup fetches a member's raw status string from the chat provider
// (creator, administrator, restricted, member, left, kicked).
type MembershipLookup interface {
	MemberStatus(ctx context.Context, chatID, userID int64) (string, error)
}

// RecordStore persists moderation and rule audit trails.
type RecordStore interface {
	SaveModeration(ctx context.Context, rec ModerationRecord) error
	SaveRuleAudit(ctx context.Context, audit RuleAudit) error
}

// Validate checks the structural soundness of a rule before it is stored.
func (r Rule) Validate() error {
	var errs []string

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	switch r.Scope {
	case ScopeGlobal:
		if r.ChatID != 0 {
			errs = append(errs, "global rules must not set chatId")
		}
	case ScopeGroup:
		if r.ChatID == 0 {
			errs = append(errs, "group rules require chatId")
		}
	default:
		errs = append(errs, fmt.Sprintf("scope must be one of: group, global (got %q)", r.Scope))
	}

	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			errs = append(errs, fmt.Sprintf("conditions[%d] (%s): %v", i, c.Kind(), err))
		}
	}
	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			errs = append(errs, fmt.Sprintf("actions[%d] (%s): %v", i, a.Kind(), err))
		}
	}

	if r.Escalation != nil {
		if ra := r.Escalation.ResetAfterSeconds; ra != nil && *ra < 1 {
			errs = append(errs, "escalation.resetAfterSeconds must be >= 1")
		}
		for i, step := range r.Escalation.Steps {
			if step.Threshold < 1 {
				errs = append(errs, fmt.Sprintf("escalation.steps[%d].threshold must be >= 1", i))
			}
			if step.WindowSeconds < 1 {
				errs = append(errs, fmt.Sprintf("escalation.steps[%d].windowSeconds must be >= 1", i))
			}
			if len(step.Actions) == 0 {
				errs = append(errs, fmt.Sprintf("escalation.steps[%d].actions must not be empty", i))
			}
			for j, a := range step.Actions {
				if err := validateAction(a); err != nil {
					errs = append(errs, fmt.Sprintf("escalation.steps[%d].actions[%d] (%s): %v", i, j, a.Kind(), err))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q:\n  - %s", ErrInvalidRule, r.Name, strings.Join(errs, "\n  - "))
	}
	return nil
}
