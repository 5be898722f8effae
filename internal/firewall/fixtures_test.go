package firewall

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"groupguard/internal/domain"
)

type fakeRepo struct {
	mu    sync.Mutex
	rules []domain.Rule
	calls int
	err   error
}

func (r *fakeRepo) ListRules(_ context.Context, chatID int64) ([]domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.Rule
	for _, rule := range r.rules {
		if rule.Scope == domain.ScopeGlobal || rule.ChatID == chatID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeLookup struct {
	mu       sync.Mutex
	statuses map[int64]string
	calls    int
	err      error
}

func (l *fakeLookup) MemberStatus(_ context.Context, _ int64, userID int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return l.statuses[userID], nil
}

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textMessage(chatID, senderID int64, msgID int, text string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    chatID,
		ChatType:  "supergroup",
		SenderID:  senderID,
		MessageID: msgID,
		Text:      text,
	}
}

func textEvent(text string, ts time.Time) *domain.Event {
	return ExtractEvent(domain.InboundMessage{Text: text}, ts)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func commandTypes(cmds []domain.Command) []domain.CommandType {
	out := make([]domain.CommandType, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Type())
	}
	return out
}
