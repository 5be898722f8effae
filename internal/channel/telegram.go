package channel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupguard/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

// Telegram implements domain.Channel and domain.MembershipLookup for a
// Telegram bot moderating groups.
type Telegram struct {
	token       string
	allowChats  []int64 // empty = moderate every group
	pollTimeout int
	editedMsgs  bool

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	AllowChats  []string // chat IDs as strings
	PollTimeout int
	// EditedMessages re-evaluates edited messages and channel posts.
	EditedMessages bool
	Logger         *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowChats {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		allowChats:  allowed,
		pollTimeout: cfg.PollTimeout,
		editedMsgs:  cfg.EditedMessages,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the bot. It is called by Start when needed and may
// be called earlier so the executor can share the client.
func (t *Telegram) Connect() (*tgbotapi.BotAPI, error) {
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return bot, nil
}

// Start begins long polling and publishes group messages to bus until ctx
// is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := t.Connect()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = allowedUpdates
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "allowed_chats", len(t.allowChats))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

// MemberStatus returns the raw Telegram status of a chat member.
func (t *Telegram) MemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	if t.bot == nil {
		return "", fmt.Errorf("telegram bot not connected")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return "", fmt.Errorf("get chat member %d in %d: %w", userID, chatID, err)
	}
	return member.Status, nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	switch {
	case msg != nil:
	case update.ChannelPost != nil:
		msg = update.ChannelPost
	case t.editedMsgs && update.EditedMessage != nil:
		msg = update.EditedMessage
	case t.editedMsgs && update.EditedChannelPost != nil:
		msg = update.EditedChannelPost
	default:
		return
	}
	if msg.Chat == nil {
		return
	}

	if msg.Chat.IsPrivate() {
		if msg.IsCommand() && t.bot != nil {
			t.handleCommand(msg)
		}
		return
	}

	if !t.isAllowed(msg.Chat.ID) {
		t.logger.Debug("ignoring message from unmoderated chat", "chat_id", msg.Chat.ID)
		return
	}

	inbound := convertMessage(msg)
	t.logger.Debug("telegram message received",
		"chat_id", inbound.ChatID,
		"sender_id", inbound.SenderID,
		"message_id", inbound.MessageID,
		"text_len", len(inbound.Text),
	)
	t.bus.Publish(inbound)
}

// convertMessage maps a Bot API message to the transport-neutral form.
// Messages sent on behalf of a chat (channel posts, anonymous admins) carry
// no user sender.
func convertMessage(m *tgbotapi.Message) domain.InboundMessage {
	in := domain.InboundMessage{
		Channel:         "telegram",
		MessageID:       m.MessageID,
		Text:            m.Text,
		Caption:         m.Caption,
		Entities:        convertEntities(m.Entities),
		CaptionEntities: convertEntities(m.CaptionEntities),
		Media: domain.MediaFlags{
			Photo:     len(m.Photo) > 0,
			Video:     m.Video != nil,
			Document:  m.Document != nil,
			Audio:     m.Audio != nil,
			Voice:     m.Voice != nil,
			Animation: m.Animation != nil,
			VideoNote: m.VideoNote != nil,
			Sticker:   m.Sticker != nil,
		},
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.Chat != nil {
		in.ChatID = m.Chat.ID
		in.ChatType = m.Chat.Type
	}
	if m.From != nil && m.SenderChat == nil {
		in.SenderID = m.From.ID
	}
	return in
}

func convertEntities(entities []tgbotapi.MessageEntity) []domain.MessageEntity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]domain.MessageEntity, 0, len(entities))
	for _, e := range entities {
		out = append(out, domain.MessageEntity{
			Type:   e.Type,
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		})
	}
	return out
}

func (t *Telegram) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "🛡 groupguard moderates group messages with firewall rules.\n\nAdd me to a group as an administrator with permission to delete messages and restrict members.\n\nCommands:\n/status - Bot status\n/help - Show this message")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("🟢 groupguard\n\nBot: @%s\nYour ID: %d\nModerated chats: %s", t.bot.Self.UserName, msg.From.ID, t.describeAllowed()))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) describeAllowed() string {
	if len(t.allowChats) == 0 {
		return "all"
	}
	ids := make([]string, 0, len(t.allowChats))
	for _, id := range t.allowChats {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return strings.Join(ids, ", ")
}

func (t *Telegram) isAllowed(chatID int64) bool {
	if len(t.allowChats) == 0 {
		return true
	}
	return slices.Contains(t.allowChats, chatID)
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
