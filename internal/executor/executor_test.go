package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"

	"groupguard/internal/domain"
)

type fakeBot struct {
	mu       sync.Mutex
	requests []tgbotapi.Chattable
	sent     []tgbotapi.Chattable
	failOn   string
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	if _, ok := c.(tgbotapi.BanChatMemberConfig); ok && b.failOn == "ban" {
		return nil, errors.New("not enough rights")
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

type fakeRecords struct {
	mu         sync.Mutex
	moderation []domain.ModerationRecord
	audits     []domain.RuleAudit
}

func (r *fakeRecords) SaveModeration(_ context.Context, rec domain.ModerationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moderation = append(r.moderation, rec)
	return nil
}

func (r *fakeRecords) SaveRuleAudit(_ context.Context, audit domain.RuleAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, audit)
	return nil
}

func (r *fakeRecords) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.moderation), len(r.audits)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteModerationCommands(t *testing.T) {
	assert := assert.New(t)
	bot := &fakeBot{}
	exec := New(Config{Bot: bot, Logger: testLogger(), RatePerSecond: 1000})

	err := exec.Execute(context.Background(), []domain.Command{
		domain.DeleteMessageCommand{ChatID: -100, MessageID: 5},
		domain.WarnCommand{ChatID: -100, UserID: 7, MessageID: 5, Reason: "Rule violation", Severity: "medium"},
		domain.RestrictCommand{ChatID: -100, UserID: 7, DurationSeconds: 60},
		domain.KickCommand{ChatID: -100, UserID: 8},
		domain.BanCommand{ChatID: -100, UserID: 9, UntilDate: 1_900_000_000},
		domain.LogCommand{Level: "warn", Message: "matched"},
	})
	assert.NoError(err)

	if assert.Len(bot.requests, 5) {
		assert.Equal(tgbotapi.NewDeleteMessage(-100, 5), bot.requests[0])

		restrict := bot.requests[1].(tgbotapi.RestrictChatMemberConfig)
		assert.Equal(int64(7), restrict.UserID)
		assert.NotNil(restrict.Permissions)
		assert.InDelta(time.Now().Add(time.Minute).Unix(), restrict.UntilDate, 5)

		kick := bot.requests[2].(tgbotapi.BanChatMemberConfig)
		assert.Equal(int64(8), kick.UserID)
		unban := bot.requests[3].(tgbotapi.UnbanChatMemberConfig)
		assert.True(unban.OnlyIfBanned)

		ban := bot.requests[4].(tgbotapi.BanChatMemberConfig)
		assert.Equal(int64(1_900_000_000), ban.UntilDate)
	}

	if assert.Len(bot.sent, 1) {
		warn := bot.sent[0].(tgbotapi.MessageConfig)
		assert.Equal(5, warn.ReplyToMessageID)
		assert.Contains(warn.Text, "Rule violation")
	}
}

func TestExecuteContinuesAfterFailure(t *testing.T) {
	assert := assert.New(t)
	bot := &fakeBot{failOn: "ban"}
	exec := New(Config{Bot: bot, Logger: testLogger(), RatePerSecond: 1000})

	err := exec.Execute(context.Background(), []domain.Command{
		domain.BanCommand{ChatID: -100, UserID: 9},
		domain.DeleteMessageCommand{ChatID: -100, MessageID: 5},
	})
	assert.ErrorContains(err, "not enough rights")
	assert.Len(bot.requests, 2)
}

func TestExecuteDryRun(t *testing.T) {
	exec := New(Config{Logger: testLogger()})
	assert.NoError(t, exec.Execute(context.Background(), []domain.Command{
		domain.DeleteMessageCommand{ChatID: -100, MessageID: 5},
		domain.WarnCommand{ChatID: -100, UserID: 7, Reason: "x"},
	}))
}

func TestRecordsPersistedAsynchronously(t *testing.T) {
	assert := assert.New(t)
	records := &fakeRecords{}
	exec := New(Config{Bot: &fakeBot{}, Records: records, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = exec.Run(ctx)
		close(done)
	}()

	assert.NoError(exec.Execute(context.Background(), []domain.Command{
		domain.RecordModerationCommand{Record: domain.ModerationRecord{RuleID: "r1"}},
		domain.RecordRuleAuditCommand{Audit: domain.RuleAudit{RuleID: "r1"}},
	}))

	assert.Eventually(func() bool {
		m, a := records.counts()
		return m == 1 && a == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecordQueueFlushedOnShutdownAndDropsWhenFull(t *testing.T) {
	assert := assert.New(t)
	records := &fakeRecords{}
	exec := New(Config{Records: records, Logger: testLogger(), QueueSize: 2})

	cmds := []domain.Command{
		domain.RecordModerationCommand{},
		domain.RecordRuleAuditCommand{},
		domain.RecordModerationCommand{},
	}
	assert.NoError(exec.Execute(context.Background(), cmds))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(exec.Run(ctx))

	m, a := records.counts()
	assert.Equal(1, m)
	assert.Equal(1, a)
}
