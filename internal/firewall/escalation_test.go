package firewall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"groupguard/internal/domain"
	"groupguard/internal/firewall/history"
)

func twoStepEscalation() *domain.Escalation {
	return &domain.Escalation{Steps: []domain.EscalationStep{
		{Threshold: 3, WindowSeconds: 60, Actions: domain.ActionList{domain.MuteAction{DurationSeconds: 300}}},
		{Threshold: 5, WindowSeconds: 60, Actions: domain.ActionList{domain.BanAction{}}},
	}}
}

func TestEscalationSelectsLaterSatisfiedStep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tracker := NewEscalationTracker(history.NewMemStore())
	esc := twoStepEscalation()
	tc := TranslateContext{ChatID: -1, MessageID: 1}
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	var labels [][]string
	for i := 0; i < 5; i++ {
		out, err := tracker.Apply(ctx, "r1", 7, esc, tc, nil, start.Add(time.Duration(i)*time.Second))
		assert.NoError(err)
		labels = append(labels, out.Labels)
	}

	assert.Empty(labels[0])
	assert.Empty(labels[1])
	assert.Equal([]string{"escalate:mute(300s)"}, labels[2])
	assert.Equal([]string{"escalate:mute(300s)"}, labels[3])
	assert.Equal([]string{"escalate:ban"}, labels[4])
}

func TestEscalationLastSatisfiedStepWins(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// The higher threshold comes first, so once both are met the lower one
	// later in the list overrides it.
	esc := &domain.Escalation{Steps: []domain.EscalationStep{
		{Threshold: 3, WindowSeconds: 60, Actions: domain.ActionList{domain.BanAction{}}},
		{Threshold: 2, WindowSeconds: 60, Actions: domain.ActionList{domain.KickAction{}}},
	}}
	tracker := NewEscalationTracker(history.NewMemStore())
	start := time.Now()

	var out Translation
	var err error
	for i := 0; i < 3; i++ {
		out, err = tracker.Apply(ctx, "r1", 7, esc, TranslateContext{ChatID: -1}, nil, start.Add(time.Duration(i)*time.Second))
		assert.NoError(err)
	}
	assert.Equal([]string{"escalate:kick"}, out.Labels)
}

func TestEscalationWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tracker := NewEscalationTracker(history.NewMemStore())
	esc := &domain.Escalation{Steps: []domain.EscalationStep{
		{Threshold: 2, WindowSeconds: 10, Actions: domain.ActionList{domain.KickAction{}}},
	}}
	start := time.Now()

	out, err := tracker.Apply(ctx, "r1", 7, esc, TranslateContext{}, nil, start)
	assert.NoError(err)
	assert.Empty(out.Commands)

	out, err = tracker.Apply(ctx, "r1", 7, esc, TranslateContext{}, nil, start.Add(11*time.Second))
	assert.NoError(err)
	assert.Empty(out.Commands)

	out, err = tracker.Apply(ctx, "r1", 7, esc, TranslateContext{}, nil, start.Add(15*time.Second))
	assert.NoError(err)
	assert.Len(out.Commands, 1)
}

func TestEscalationResetPrunesHistory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store := history.NewMemStore()
	tracker := NewEscalationTracker(store)
	esc := &domain.Escalation{
		Steps:             []domain.EscalationStep{{Threshold: 2, WindowSeconds: 3600, Actions: domain.ActionList{domain.KickAction{}}}},
		ResetAfterSeconds: intPtr(5),
	}
	start := time.Now()

	_, err := tracker.Apply(ctx, "r1", 7, esc, TranslateContext{}, nil, start)
	assert.NoError(err)
	out, err := tracker.Apply(ctx, "r1", 7, esc, TranslateContext{}, nil, start.Add(30*time.Second))
	assert.NoError(err)
	assert.Len(out.Commands, 1)

	// The first violation was pruned, so the next one starts a new count.
	entries, err := tracker.RegisterViolation(ctx, "r1", 7, start.Add(31*time.Second))
	assert.NoError(err)
	assert.Len(entries, 2)
}

func TestEscalationRecordsWithoutSteps(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tracker := NewEscalationTracker(nil)
	start := time.Now()

	out, err := tracker.Apply(ctx, "r1", 7, nil, TranslateContext{}, nil, start)
	assert.NoError(err)
	assert.Empty(out.Commands)

	entries, err := tracker.RegisterViolation(ctx, "r1", 7, start.Add(time.Second))
	assert.NoError(err)
	assert.Len(entries, 2)
}

func TestViolationHistoryPrunedAfterDay(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tracker := NewEscalationTracker(history.NewMemStore())
	start := time.Now()

	for i := 0; i < 3; i++ {
		entries, err := tracker.RegisterViolation(ctx, "r1", 7, start.Add(time.Duration(i)*time.Hour))
		assert.NoError(err)
		assert.Len(entries, i+1)
	}

	entries, err := tracker.RegisterViolation(ctx, "r1", 7, start.Add(24*time.Hour+30*time.Minute))
	assert.NoError(err)
	// only the 1h and 2h entries are within 24h of the newest
	assert.Len(entries, 3)

	other, err := tracker.RegisterViolation(ctx, "r1", 8, start)
	assert.NoError(err)
	assert.Len(other, 1)
}
