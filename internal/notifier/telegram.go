package notifier

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"biopatrol/pkg/config"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/ratelimit"
)

// throttleKey is the single rate-limit bucket all outbound sends share.
// Telegram enforces per-bot limits, not per-chat, so one bucket is enough.
const throttleKey = "notifier:telegram"

// Telegram sends patrol summaries to one operator chat. Sends that exceed
// the configured rate limit are dropped, not queued — the summary for the
// next task carries the current fleet state anyway.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter ratelimit.Limiter
}

// NewTelegram authenticates the bot. limiter may be nil to disable
// throttling.
func NewTelegram(cfg config.NotifierConfig, limiter ratelimit.Limiter) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("telegram notifier ready", "bot", bot.Self.UserName, "chat_id", cfg.ChatID)
	return &Telegram{bot: bot, chatID: cfg.ChatID, limiter: limiter}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) {
	if t.limiter != nil {
		allowed, err := t.limiter.Allow(ctx, throttleKey)
		if err != nil {
			logger.Log.Debug("notifier rate limiter error", "error", err)
		} else if !allowed {
			logger.Log.Warn("notification throttled, dropping", "len", len(text))
			return
		}
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		logger.Log.Warn("telegram send failed", "error", err)
	}
}

var _ Notifier = (*Telegram)(nil)
