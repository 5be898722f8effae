package firewall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"groupguard/internal/domain"
	"groupguard/internal/firewall/history"
)

var evalNow = time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC)

func newTestEvaluator(repo domain.RuleRepository, lookup domain.MembershipLookup) *Evaluator {
	var cache *RuleCache
	if repo != nil {
		cache = NewRuleCache(repo, time.Minute)
	}
	return NewEvaluator(EvaluatorConfig{
		Rules:      cache,
		Roles:      NewRoleResolver(lookup, testLogger()),
		Escalation: NewEscalationTracker(history.NewMemStore()),
		Logger:     testLogger(),
		Now:        fixedClock(evalNow),
	})
}

func airdropRule() domain.Rule {
	return domain.Rule{
		ID:       "airdrop",
		Scope:    domain.ScopeGroup,
		ChatID:   -100,
		Name:     "No airdrops",
		Enabled:  true,
		Priority: 10,
		Conditions: domain.ConditionList{
			domain.KeywordCondition{Keywords: []string{"scam", "airdrop"}, Match: domain.KeywordAny},
		},
		Actions: domain.ActionList{domain.DeleteMessageAction{}},
	}
}

func TestEvaluateAirdropScenario(t *testing.T) {
	assert := assert.New(t)

	eval := newTestEvaluator(&fakeRepo{rules: []domain.Rule{airdropRule()}}, &fakeLookup{})
	cmds := eval.Evaluate(context.Background(), textMessage(-100, 7, 55, "Free AIRDROP now!"))

	assert.Equal([]domain.CommandType{
		domain.CmdDeleteMessage,
		domain.CmdRecordModeration,
		domain.CmdRecordRuleAudit,
	}, commandTypes(cmds))
	assert.Equal(domain.DeleteMessageCommand{ChatID: -100, MessageID: 55}, cmds[0])

	rec := cmds[1].(domain.RecordModerationCommand).Record
	assert.Equal("airdrop", rec.RuleID)
	assert.Equal(int64(7), rec.UserID)
	assert.Equal([]string{"delete_message"}, rec.Actions)
	assert.Equal("No airdrops", rec.Reason)
	assert.Equal(false, rec.Metadata["escalated"])

	audit := cmds[2].(domain.RecordRuleAuditCommand).Audit
	assert.Equal(int64(7), audit.OffenderID)
	assert.Equal("delete_message", audit.Summary)
	assert.Equal("Free AIRDROP now!", audit.Payload["text"])
	assert.Equal(evalNow.Format(time.RFC3339Nano), audit.Payload["matchedAt"])
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	assert := assert.New(t)

	high := airdropRule()
	high.ID = "high"
	high.Priority = 1
	high.Actions = domain.ActionList{domain.WarnAction{Severity: "high"}}
	low := airdropRule()
	low.ID = "low"
	low.Priority = 2
	low.Actions = domain.ActionList{domain.BanAction{}}

	tracker := NewEscalationTracker(history.NewMemStore())
	eval := NewEvaluator(EvaluatorConfig{
		Rules:      NewRuleCache(&fakeRepo{rules: []domain.Rule{low, high}}, time.Minute),
		Escalation: tracker,
		Logger:     testLogger(),
		Now:        fixedClock(evalNow),
	})

	d, err := eval.Decide(context.Background(), textMessage(-100, 7, 1, "scam"))
	assert.NoError(err)
	if assert.NotNil(d) {
		assert.Equal("high", d.Rule.ID)
		assert.Equal([]string{"warn(high)"}, d.Labels)
	}

	// the lower priority rule never registered a violation
	entries, err := tracker.RegisterViolation(context.Background(), "low", 7, evalNow)
	assert.NoError(err)
	assert.Len(entries, 1)
}

func TestEvaluateSkipsRulesWithoutApplicableActions(t *testing.T) {
	assert := assert.New(t)

	userOnly := airdropRule()
	userOnly.ID = "user-only"
	userOnly.Priority = 1
	userOnly.Actions = domain.ActionList{domain.KickAction{}}
	fallback := airdropRule()
	fallback.ID = "fallback"
	fallback.Priority = 2

	eval := newTestEvaluator(&fakeRepo{rules: []domain.Rule{userOnly, fallback}}, nil)
	d, err := eval.Decide(context.Background(), textMessage(-100, 0, 9, "airdrop"))
	assert.NoError(err)
	if assert.NotNil(d) {
		assert.Equal("fallback", d.Rule.ID)
	}
}

func TestEvaluateEscalation(t *testing.T) {
	assert := assert.New(t)

	rule := airdropRule()
	rule.Escalation = &domain.Escalation{Steps: []domain.EscalationStep{
		{Threshold: 2, WindowSeconds: 60, Actions: domain.ActionList{domain.MuteAction{DurationSeconds: 60}}},
	}}
	eval := newTestEvaluator(&fakeRepo{rules: []domain.Rule{rule}}, &fakeLookup{})
	ctx := context.Background()

	d, err := eval.Decide(ctx, textMessage(-100, 7, 1, "airdrop"))
	assert.NoError(err)
	assert.False(d.Escalated)

	d, err = eval.Decide(ctx, textMessage(-100, 7, 2, "airdrop"))
	assert.NoError(err)
	assert.True(d.Escalated)
	assert.Equal([]string{"delete_message", "escalate:mute(60s)"}, d.Labels)
	rec := d.Commands[len(d.Commands)-2].(domain.RecordModerationCommand).Record
	assert.Equal(true, rec.Metadata["escalated"])
}

func TestEvaluateUserRoleExemption(t *testing.T) {
	assert := assert.New(t)

	rule := airdropRule()
	rule.MatchAll = true
	rule.Conditions = append(rule.Conditions, domain.UserRoleCondition{Roles: []domain.Role{domain.RoleMember}})
	lookup := &fakeLookup{statuses: map[int64]string{1: "administrator", 2: "member"}}
	eval := newTestEvaluator(&fakeRepo{rules: []domain.Rule{rule}}, lookup)
	ctx := context.Background()

	assert.Empty(eval.Evaluate(ctx, textMessage(-100, 1, 1, "airdrop")))
	assert.NotEmpty(eval.Evaluate(ctx, textMessage(-100, 2, 2, "airdrop")))
}

func TestEvaluateInertAndFailOpen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	assert.Empty(newTestEvaluator(nil, nil).Evaluate(ctx, textMessage(-100, 7, 1, "airdrop")))

	eval := newTestEvaluator(&fakeRepo{rules: []domain.Rule{airdropRule()}}, nil)
	assert.Empty(eval.Evaluate(ctx, textMessage(0, 7, 1, "airdrop")))
	assert.Empty(eval.Evaluate(ctx, domain.InboundMessage{ChatID: -100, SenderID: 7, MessageID: 1}))

	broken := newTestEvaluator(&fakeRepo{err: errBoom}, nil)
	assert.Empty(broken.Evaluate(ctx, textMessage(-100, 7, 1, "airdrop")))
	_, err := broken.Decide(ctx, textMessage(-100, 7, 1, "airdrop"))
	assert.ErrorIs(err, errBoom)
}

type panicRepo struct{}

func (panicRepo) ListRules(context.Context, int64) ([]domain.Rule, error) {
	panic("unexpected")
}

func TestEvaluateRecoversPanics(t *testing.T) {
	eval := newTestEvaluator(panicRepo{}, nil)
	assert.NotPanics(t, func() {
		assert.Empty(t, eval.Evaluate(context.Background(), textMessage(-100, 7, 1, "hi")))
	})
}
