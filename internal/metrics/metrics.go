// Package metrics exposes groupguard's Prometheus metrics and the /metrics
// HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupguard_messages_evaluated_total",
		Help: "Number of inbound messages passed to the firewall",
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "groupguard_evaluation_duration_sec",
		Help:    "Duration of firewall evaluation per message",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupguard_rule_matches_total",
		Help: "Number of rules that matched and produced actions",
	}, []string{"scope"})

	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupguard_escalations_total",
		Help: "Number of escalation steps applied",
	})

	EvaluationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupguard_evaluation_errors_total",
		Help: "Number of evaluations that failed open",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupguard_cache_lookups_total",
		Help: "Rule and role cache lookups, by cache and result",
	}, []string{"cache", "result"})

	MemberLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupguard_member_lookups_total",
		Help: "Membership status API calls, by result",
	}, []string{"result"})

	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupguard_commands_executed_total",
		Help: "Moderation commands executed, by type and status",
	}, []string{"type", "status"})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupguard_records_dropped_total",
		Help: "Audit records dropped because the persistence queue was full",
	})
)

// Handler serves /metrics and a /healthz liveness probe.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
