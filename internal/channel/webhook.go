package channel

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupguard/internal/domain"
)

const (
	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	webhookMaxBody      = 1 << 20
)

// WebhookConfig configures Telegram webhook delivery.
type WebhookConfig struct {
	Addr string // listen address (default :8443)
	Path string // URL path (default /telegram/webhook)
	// PublicURL is the externally reachable base URL. When set, Start
	// registers the webhook with Telegram and removes it on shutdown.
	PublicURL string
	// Secret is checked against the X-Telegram-Bot-Api-Secret-Token header.
	Secret string
}

// Webhook receives Telegram updates over HTTPS instead of long polling.
// Updates go through the same filtering as Telegram.Start.
type Webhook struct {
	tg        *Telegram
	addr      string
	path      string
	publicURL string
	secret    string
	server    *http.Server
}

func NewWebhook(tg *Telegram, cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/telegram/webhook"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8443"
	}
	return &Webhook{
		tg:        tg,
		addr:      cfg.Addr,
		path:      cfg.Path,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		secret:    cfg.Secret,
	}
}

func (w *Webhook) Name() string { return "telegram-webhook" }

// Start serves the webhook endpoint until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.tg.bus = bus

	if w.publicURL != "" {
		if err := w.register(); err != nil {
			return err
		}
		defer w.unregister()
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleUpdate)

	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.tg.logger.Info("telegram webhook listening", "addr", w.addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.tg.logger.Info("telegram webhook shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("telegram webhook: %w", err)
	}
}

func (w *Webhook) Stop() error {
	return nil
}

func (w *Webhook) register() error {
	bot, err := w.tg.Connect()
	if err != nil {
		return err
	}
	params := tgbotapi.Params{"url": w.publicURL + w.path}
	if w.secret != "" {
		params["secret_token"] = w.secret
	}
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return err
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	w.tg.logger.Info("telegram webhook registered", "url", w.publicURL+w.path)
	return nil
}

func (w *Webhook) unregister() {
	if _, err := w.tg.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		w.tg.logger.Warn("delete webhook failed", "err", err)
	}
}

func (w *Webhook) handleUpdate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if w.secret != "" && !verifySecret(r.Header.Get(webhookSecretHeader), w.secret) {
		http.Error(rw, "Invalid secret token", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	w.tg.handleUpdate(update)
	rw.WriteHeader(http.StatusOK)
}

func verifySecret(got, want string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(want))
}
