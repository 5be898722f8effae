package firewall

import (
	"fmt"
	"time"

	"groupguard/internal/domain"
)

const (
	defaultWarnReason   = "Rule violation"
	defaultWarnSeverity = "medium"
	defaultLogLevel     = "info"
	defaultLogMessage   = "firewall rule matched"
)

// TranslateContext identifies the chat and message a rule fired on.
// MessageID 0 means the message id is unknown.
type TranslateContext struct {
	ChatID    int64
	MessageID int
}

// Translation is the outcome of turning declared actions into commands.
// Labels describe the applied actions for audit records.
type Translation struct {
	Commands []domain.Command
	Labels   []string
}

func (t *Translation) add(cmd domain.Command, label string) {
	t.Commands = append(t.Commands, cmd)
	t.Labels = append(t.Labels, label)
}

// TranslateActions converts actions into commands in declaration order.
// User-targeted actions are skipped when userID is 0.
func TranslateActions(actions []domain.Action, tc TranslateContext, ev *domain.Event, userID int64, now time.Time) Translation {
	var out Translation
	hasUser := userID != 0

	for _, action := range actions {
		switch a := action.(type) {
		case domain.DeleteMessageAction:
			if tc.MessageID == 0 {
				continue
			}
			out.add(domain.DeleteMessageCommand{ChatID: tc.ChatID, MessageID: tc.MessageID}, "delete_message")

		case domain.WarnAction:
			if !hasUser {
				continue
			}
			reason := a.Message
			if reason == "" {
				reason = defaultWarnReason
			}
			severity := a.Severity
			if severity == "" {
				severity = defaultWarnSeverity
			}
			out.add(domain.WarnCommand{
				ChatID:    tc.ChatID,
				UserID:    userID,
				MessageID: tc.MessageID,
				Reason:    reason,
				Severity:  severity,
			}, fmt.Sprintf("warn(%s)", severity))

		case domain.MuteAction:
			if !hasUser {
				continue
			}
			out.add(domain.RestrictCommand{
				ChatID:          tc.ChatID,
				UserID:          userID,
				DurationSeconds: a.DurationSeconds,
				Reason:          a.Reason,
			}, fmt.Sprintf("mute(%ds)", a.DurationSeconds))

		case domain.KickAction:
			if !hasUser {
				continue
			}
			out.add(domain.KickCommand{ChatID: tc.ChatID, UserID: userID, Reason: a.Reason}, "kick")

		case domain.BanAction:
			if !hasUser {
				continue
			}
			cmd := domain.BanCommand{ChatID: tc.ChatID, UserID: userID, Reason: a.Reason}
			label := "ban"
			if a.DurationSeconds > 0 {
				cmd.UntilDate = now.Unix() + int64(a.DurationSeconds)
				label = fmt.Sprintf("ban(%ds)", a.DurationSeconds)
			}
			out.add(cmd, label)

		case domain.LogAction:
			level := a.Level
			if level == "" {
				level = defaultLogLevel
			}
			message := a.Message
			if message == "" {
				message = defaultLogMessage
			}
			logCtx := map[string]any{"chatId": tc.ChatID}
			if ev != nil && ev.Text != "" {
				logCtx["text"] = ev.Text
			}
			out.add(domain.LogCommand{Level: level, Message: message, Context: logCtx}, fmt.Sprintf("log(%s)", level))
		}
	}
	return out
}
