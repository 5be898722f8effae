// Package firewall evaluates group messages against priority-ordered policy
// rules and decides which moderation commands to issue. It never executes
// them.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"groupguard/internal/domain"
	"groupguard/internal/metrics"
)

// Decision is the outcome for one message: the first matching rule that
// produced actions, and the commands to execute.
type Decision struct {
	Rule      domain.Rule
	Labels    []string
	Escalated bool
	Commands  []domain.Command
}

// EvaluatorConfig holds the evaluator's collaborators. A nil Rules cache
// makes the evaluator inert.
type EvaluatorConfig struct {
	Rules      *RuleCache
	Roles      *RoleResolver
	Escalation *EscalationTracker
	Logger     *slog.Logger
	Now        func() time.Time
}

type Evaluator struct {
	rules      *RuleCache
	roles      *RoleResolver
	escalation *EscalationTracker
	logger     *slog.Logger
	now        func() time.Time
}

func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Escalation == nil {
		cfg.Escalation = NewEscalationTracker(nil)
	}
	return &Evaluator{
		rules:      cfg.Rules,
		roles:      cfg.Roles,
		escalation: cfg.Escalation,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Evaluate returns the commands for msg. Failures and panics are logged and
// yield no commands so a firewall fault never blocks message delivery.
func (e *Evaluator) Evaluate(ctx context.Context, msg domain.InboundMessage) (cmds []domain.Command) {
	start := time.Now()
	metrics.MessagesEvaluated.Inc()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			metrics.EvaluationErrors.Inc()
			e.logger.Error("firewall evaluation panic", "chat_id", msg.ChatID, "message_id", msg.MessageID, "panic", r)
			cmds = nil
		}
	}()

	d, err := e.Decide(ctx, msg)
	if err != nil {
		metrics.EvaluationErrors.Inc()
		e.logger.Error("firewall evaluation failed", "chat_id", msg.ChatID, "message_id", msg.MessageID, "err", err)
		return nil
	}
	if d == nil {
		return nil
	}
	return d.Commands
}

// Decide runs the evaluation and returns errors instead of failing open.
// A nil decision means no rule produced actions.
func (e *Evaluator) Decide(ctx context.Context, msg domain.InboundMessage) (*Decision, error) {
	if e.rules == nil || msg.ChatID == 0 {
		return nil, nil
	}

	now := e.now()
	ev := ExtractEvent(msg, now)
	if ev == nil {
		return nil, nil
	}

	role := domain.RoleMember
	if msg.HasSender() && e.roles != nil {
		role = e.roles.Resolve(ctx, msg.ChatID, msg.SenderID)
	}

	rules, err := e.rules.Load(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}

	tc := TranslateContext{ChatID: msg.ChatID, MessageID: msg.MessageID}
	for _, rule := range rules {
		if !rule.Enabled || !MatchRule(rule, ev, role) {
			continue
		}

		base := TranslateActions(rule.Actions, tc, ev, msg.SenderID, now)

		var esc Translation
		if msg.HasSender() {
			esc, err = e.escalation.Apply(ctx, rule.ID, msg.SenderID, rule.Escalation, tc, ev, now)
			if err != nil {
				return nil, fmt.Errorf("escalation for rule %s: %w", rule.ID, err)
			}
		}

		commands := append(base.Commands, esc.Commands...)
		if len(commands) == 0 {
			continue
		}
		labels := append(base.Labels, esc.Labels...)
		escalated := len(esc.Commands) > 0

		commands = append(commands,
			domain.RecordModerationCommand{Record: moderationRecord(rule, msg, labels, escalated, now)},
			domain.RecordRuleAuditCommand{Audit: ruleAudit(rule, msg, ev, labels, now)},
		)

		metrics.RuleMatches.WithLabelValues(string(rule.Scope)).Inc()
		if escalated {
			metrics.Escalations.Inc()
		}
		return &Decision{
			Rule:      rule,
			Labels:    labels,
			Escalated: escalated,
			Commands:  commands,
		}, nil
	}
	return nil, nil
}

func moderationRecord(rule domain.Rule, msg domain.InboundMessage, labels []string, escalated bool, now time.Time) domain.ModerationRecord {
	reason := rule.Description
	if reason == "" {
		reason = rule.Name
	}
	return domain.ModerationRecord{
		ChatID:  msg.ChatID,
		RuleID:  rule.ID,
		UserID:  msg.SenderID,
		Actions: labels,
		Reason:  reason,
		Metadata: map[string]any{
			"escalated": escalated,
			"ruleName":  rule.Name,
			"severity":  rule.Severity,
			"scope":     string(rule.Scope),
			"messageId": msg.MessageID,
		},
		CreatedAt: now,
	}
}

func ruleAudit(rule domain.Rule, msg domain.InboundMessage, ev *domain.Event, labels []string, now time.Time) domain.RuleAudit {
	payload := map[string]any{
		"kind":       string(ev.Kind),
		"mediaTypes": ev.MediaTypes,
		"domains":    ev.Domains,
		"matchedAt":  now.UTC().Format(time.RFC3339Nano),
	}
	if ev.Text != "" {
		payload["text"] = ev.Text
	}
	return domain.RuleAudit{
		ChatID:     msg.ChatID,
		RuleID:     rule.ID,
		OffenderID: msg.SenderID,
		Summary:    strings.Join(labels, ", "),
		Payload:    payload,
		CreatedAt:  now,
	}
}
