// Package app assembles the firewall pipeline from configuration:
// telegram ingest, the inbound bus, the evaluation worker, the command
// executor and the optional metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"groupguard/internal/bus"
	"groupguard/internal/channel"
	"groupguard/internal/config"
	"groupguard/internal/domain"
	"groupguard/internal/executor"
	"groupguard/internal/firewall"
	"groupguard/internal/firewall/history"
	"groupguard/internal/metrics"
	"groupguard/internal/rulefile"
	"groupguard/internal/store"
)

const (
	busBufferSize = 256
	sweepInterval = 10 * time.Minute
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.SQLiteStore
	history  history.Store
	bus      *bus.InMemoryBus
	telegram *channel.Telegram
	ingest   domain.Channel

	rules     *firewall.RuleCache
	roles     *firewall.RoleResolver
	manager   *firewall.RuleManager
	evaluator *firewall.Evaluator
	executor  *executor.Executor
	worker    *Worker
}

// New builds every component but starts nothing. When telegram is enabled
// it connects the bot so the executor and role resolver can share it.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.openStorage(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openHistory(); err != nil {
		a.Close()
		return nil, err
	}

	var lookup domain.MembershipLookup
	var bot executor.BotAPI
	if cfg.Telegram.Enabled {
		a.telegram = channel.NewTelegram(channel.TelegramConfig{
			Token:          cfg.Telegram.Token,
			AllowChats:     cfg.Telegram.AllowChats,
			PollTimeout:    cfg.Telegram.PollTimeout,
			EditedMessages: cfg.Telegram.EditedMessages,
			Logger:         logger,
		})
		api, err := a.telegram.Connect()
		if err != nil {
			a.Close()
			return nil, err
		}
		lookup = a.telegram
		bot = api
		a.ingest = a.telegram
		if wh := cfg.Telegram.Webhook; wh.Enabled {
			a.ingest = channel.NewWebhook(a.telegram, channel.WebhookConfig{
				Addr:      wh.Addr,
				Path:      wh.Path,
				PublicURL: wh.PublicURL,
				Secret:    wh.Secret,
			})
		}
	} else {
		logger.Info("telegram channel disabled, executor runs in dry mode")
	}

	var records domain.RecordStore
	if a.store != nil {
		records = a.store
		a.rules = firewall.NewRuleCache(a.store, time.Duration(cfg.Firewall.RuleCacheTTLMs)*time.Millisecond)
		a.manager = firewall.NewRuleManager(a.store, a.rules, logger)
	}
	a.roles = firewall.NewRoleResolver(lookup, logger)

	a.evaluator = firewall.NewEvaluator(firewall.EvaluatorConfig{
		Rules:      a.rules,
		Roles:      a.roles,
		Escalation: firewall.NewEscalationTracker(a.history),
		Logger:     logger,
	})
	a.executor = executor.New(executor.Config{
		Bot:           bot,
		Records:       records,
		Logger:        logger,
		RatePerSecond: float64(cfg.Firewall.ExecutorRatePerSecond),
		QueueSize:     cfg.Firewall.RecordQueueSize,
	})
	a.bus = bus.New(busBufferSize, logger)
	a.worker = NewWorker(WorkerConfig{
		Bus:       a.bus,
		Evaluator: a.evaluator,
		Executor:  a.executor,
		Workers:   cfg.Firewall.Workers,
		Logger:    logger,
	})

	if err := a.importRules(context.Background()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStorage() error {
	if a.cfg.Storage.DBPath == "" {
		a.logger.Warn("storage.dbPath is empty, firewall has no rules")
		return nil
	}
	st, err := store.NewSQLiteStore(a.cfg.Storage.DBPath, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st
	return nil
}

func (a *App) openHistory() error {
	if !a.cfg.Redis.Enabled {
		a.history = history.NewMemStore()
		return nil
	}
	rs, err := history.NewRedisStore(a.cfg.Redis.URL, a.cfg.Redis.Password)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.logger.Info("violation history in redis")
	a.history = rs
	return nil
}

// importRules upserts every rule found in firewall.rulesDir.
func (a *App) importRules(ctx context.Context) error {
	if a.cfg.Firewall.RulesDir == "" || a.manager == nil {
		return nil
	}
	rules, err := rulefile.LoadDirectory(a.cfg.Firewall.RulesDir, a.logger)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if _, err := a.manager.Upsert(ctx, r); err != nil {
			return fmt.Errorf("import rule %q: %w", r.Name, err)
		}
	}
	if len(rules) > 0 {
		a.logger.Info("rules imported", "dir", a.cfg.Firewall.RulesDir, "count", len(rules))
	}
	return nil
}

// Run starts all components and blocks until ctx is cancelled or one of
// them fails. The record writer outlives the worker so records produced by
// in-flight messages are persisted before Run returns.
func (a *App) Run(ctx context.Context) error {
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()
	writerDone := make(chan error, 1)
	go func() { writerDone <- a.executor.Run(writerCtx) }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.worker.Run(ctx) })

	if a.ingest != nil {
		a.logger.Info("ingest channel", "name", a.ingest.Name())
		g.Go(func() error {
			defer a.bus.Close()
			return a.ingest.Start(ctx, a.bus)
		})
	}
	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger) })
	}
	if mem, ok := a.history.(*history.MemStore); ok {
		g.Go(func() error {
			sweepHistory(ctx, mem, sweepInterval, a.logger)
			return nil
		})
	}

	a.logger.Info("groupguard started")
	err := g.Wait()
	stopWriter()
	if werr := <-writerDone; err == nil {
		err = werr
	}
	a.logger.Info("groupguard stopped")
	return err
}

func sweepHistory(ctx context.Context, mem *history.MemStore, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := mem.Sweep(now, history.Retention); n > 0 {
				logger.Debug("violation history swept", "keys", n)
			}
		}
	}
}

// Bus is the inbound bus messages are published to.
func (a *App) Bus() domain.MessageBus { return a.bus }

// Rules returns the rule manager, nil when no storage is configured.
func (a *App) Rules() *firewall.RuleManager { return a.manager }

func (a *App) Evaluator() *firewall.Evaluator { return a.evaluator }

func (a *App) Store() *store.SQLiteStore { return a.store }

// Close releases the store and the history backend.
func (a *App) Close() error {
	var errs []error
	if rs, ok := a.history.(*history.RedisStore); ok {
		errs = append(errs, rs.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
