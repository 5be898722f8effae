package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"groupguard/internal/domain"
)

// Evaluator decides the moderation commands for one message.
type Evaluator interface {
	Evaluate(ctx context.Context, msg domain.InboundMessage) []domain.Command
}

// CommandExecutor carries out moderation commands.
type CommandExecutor interface {
	Execute(ctx context.Context, cmds []domain.Command) error
}

// Worker drains the inbound bus and evaluates messages concurrently, at
// most Workers at a time.
type Worker struct {
	bus      domain.MessageBus
	eval     Evaluator
	exec     CommandExecutor
	parallel int64
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

type WorkerConfig struct {
	Bus       domain.MessageBus
	Evaluator Evaluator
	Executor  CommandExecutor
	Workers   int
	Logger    *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		bus:      cfg.Bus,
		eval:     cfg.Evaluator,
		exec:     cfg.Executor,
		parallel: int64(cfg.Workers),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   cfg.Logger,
	}
}

// Run processes messages until ctx is cancelled or the bus is closed, then
// waits for in-flight messages to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("firewall worker started", "workers", w.parallel)
	defer w.wait()

	inbound := w.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := w.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			go func() {
				defer w.sem.Release(1)
				w.handle(ctx, msg)
			}()
		}
	}
}

func (w *Worker) wait() {
	// acquiring every slot means all handlers have returned
	_ = w.sem.Acquire(context.Background(), w.parallel)
	w.sem.Release(w.parallel)
	w.logger.Info("firewall worker stopped")
}

func (w *Worker) handle(ctx context.Context, msg domain.InboundMessage) {
	cmds := w.eval.Evaluate(ctx, msg)
	if len(cmds) == 0 {
		return
	}
	w.logger.Debug("firewall decision",
		"chat_id", msg.ChatID,
		"message_id", msg.MessageID,
		"commands", len(cmds),
	)
	if err := w.exec.Execute(ctx, cmds); err != nil {
		w.logger.Warn("moderation partially failed",
			"chat_id", msg.ChatID,
			"message_id", msg.MessageID,
			"err", err,
		)
	}
}
