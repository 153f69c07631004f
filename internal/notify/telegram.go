package notify

import (
	"context"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/events"
)

// Telegram delivers events as Markdown messages to configured chats.
type Telegram struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegram dials the bot API and verifies the token.
func NewTelegram(botToken string, chatIDs []int64, logger zerolog.Logger) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if len(chatIDs) == 0 {
		return nil, fmt.Errorf("telegram requires at least one chat ID")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot API: %w", err)
	}

	logger.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram notifier initialized")

	return &Telegram{api: api, chatIDs: chatIDs, logger: logger}, nil
}

// Name identifies the channel in logs.
func (t *Telegram) Name() string { return "telegram" }

// Send pushes the event to every configured chat. It succeeds when at
// least one chat accepted the message.
func (t *Telegram) Send(ctx context.Context, ev events.Event) error {
	text := formatTelegram(ev)

	delivered := 0
	var lastErr error
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.api.Send(msg); err != nil {
			t.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("failed to deliver to any telegram chat: %w", lastErr)
	}
	return nil
}

// formatTelegram renders one event as a Markdown message.
func formatTelegram(ev events.Event) string {
	var emoji string
	switch ev.Kind {
	case events.KindTradeExecuted:
		emoji = "💱"
	case events.KindBotStartFailed:
		emoji = "🚨"
	case events.KindBotStarted, events.KindBotStopped:
		emoji = "🤖"
	default:
		emoji = "📢"
	}

	text := fmt.Sprintf("%s *%s*", emoji, titleFor(ev))
	if ev.Message != "" {
		text += "\n\n" + ev.Message
	}

	if len(ev.Payload) > 0 {
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		text += "\n"
		for _, k := range keys {
			text += fmt.Sprintf("\n• %s: `%v`", k, ev.Payload[k])
		}
	}

	if ev.BotID != "" {
		text += fmt.Sprintf("\n\n_bot %s_", ev.BotID)
	}
	return text
}
