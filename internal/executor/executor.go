// Package executor carries out the moderation commands decided by the
// firewall: Bot API calls for member actions, logging, and asynchronous
// persistence of audit records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"groupguard/internal/domain"
	"groupguard/internal/logging"
	"groupguard/internal/metrics"
)

// BotAPI is the subset of *tgbotapi.BotAPI the executor uses.
type BotAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Config struct {
	// Bot performs moderation calls. When nil the executor runs in dry mode
	// and only logs what it would do.
	Bot     BotAPI
	Records domain.RecordStore
	Logger  *slog.Logger
	// RatePerSecond bounds Bot API calls. Zero means 20/s.
	RatePerSecond float64
	// QueueSize bounds pending audit records. Zero means 256.
	QueueSize int
}

type Executor struct {
	bot     BotAPI
	records domain.RecordStore
	logger  *slog.Logger
	limiter *rate.Limiter
	queue   chan domain.Command
}

func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Executor{
		bot:     cfg.Bot,
		records: cfg.Records,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1),
		queue:   make(chan domain.Command, cfg.QueueSize),
	}
}

// Execute applies cmds in order. A failing command does not stop the ones
// after it; all failures are returned joined. Record commands are queued for
// Run and never block.
func (e *Executor) Execute(ctx context.Context, cmds []domain.Command) error {
	var errs []error
	for _, cmd := range cmds {
		if err := e.execute(ctx, cmd); err != nil {
			metrics.CommandsExecuted.WithLabelValues(string(cmd.Type()), "error").Inc()
			e.logger.Warn("moderation command failed", "type", cmd.Type(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", cmd.Type(), err))
			continue
		}
		metrics.CommandsExecuted.WithLabelValues(string(cmd.Type()), "ok").Inc()
	}
	return errors.Join(errs...)
}

func (e *Executor) execute(ctx context.Context, cmd domain.Command) error {
	switch c := cmd.(type) {
	case domain.DeleteMessageCommand:
		return e.request(ctx, tgbotapi.NewDeleteMessage(c.ChatID, c.MessageID))

	case domain.WarnCommand:
		msg := tgbotapi.NewMessage(c.ChatID, warnText(c))
		if c.MessageID != 0 {
			msg.ReplyToMessageID = c.MessageID
		}
		return e.send(ctx, msg)

	case domain.RestrictCommand:
		cfg := tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: c.ChatID, UserID: c.UserID},
			Permissions:      &tgbotapi.ChatPermissions{},
		}
		if c.DurationSeconds > 0 {
			cfg.UntilDate = time.Now().Add(time.Duration(c.DurationSeconds) * time.Second).Unix()
		}
		return e.request(ctx, cfg)

	case domain.KickCommand:
		member := tgbotapi.ChatMemberConfig{ChatID: c.ChatID, UserID: c.UserID}
		if err := e.request(ctx, tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
			return err
		}
		return e.request(ctx, tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true})

	case domain.BanCommand:
		return e.request(ctx, tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: c.ChatID, UserID: c.UserID},
			UntilDate:        c.UntilDate,
		})

	case domain.LogCommand:
		e.logger.Log(ctx, logging.ParseLevel(c.Level), c.Message, "context", c.Context)
		return nil

	case domain.RecordModerationCommand, domain.RecordRuleAuditCommand:
		e.enqueue(cmd)
		return nil

	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

func (e *Executor) request(ctx context.Context, c tgbotapi.Chattable) error {
	if e.bot == nil {
		e.logger.Info("dry run: would call bot api", "config", fmt.Sprintf("%+v", c))
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.bot.Request(c)
	return err
}

func (e *Executor) send(ctx context.Context, c tgbotapi.Chattable) error {
	if e.bot == nil {
		e.logger.Info("dry run: would send message", "config", fmt.Sprintf("%+v", c))
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.bot.Send(c)
	return err
}

func (e *Executor) enqueue(cmd domain.Command) {
	if e.records == nil {
		return
	}
	select {
	case e.queue <- cmd:
	default:
		metrics.RecordsDropped.Inc()
		e.logger.Warn("record queue full, dropping record", "type", cmd.Type())
	}
}

// Run persists queued records until ctx is cancelled, then flushes what is
// still queued.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return nil
		case cmd := <-e.queue:
			e.persist(ctx, cmd)
		}
	}
}

func (e *Executor) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case cmd := <-e.queue:
			e.persist(ctx, cmd)
		default:
			return
		}
	}
}

func (e *Executor) persist(ctx context.Context, cmd domain.Command) {
	var err error
	switch c := cmd.(type) {
	case domain.RecordModerationCommand:
		err = e.records.SaveModeration(ctx, c.Record)
	case domain.RecordRuleAuditCommand:
		err = e.records.SaveRuleAudit(ctx, c.Audit)
	}
	if err != nil {
		e.logger.Error("persist record failed", "type", cmd.Type(), "err", err)
	}
}

func warnText(c domain.WarnCommand) string {
	prefix := "⚠️"
	if c.Severity == "high" {
		prefix = "⛔"
	}
	return fmt.Sprintf("%s %s", prefix, c.Reason)
}
