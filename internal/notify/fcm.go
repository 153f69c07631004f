package notify

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/tradefleet/internal/events"
)

// FCM delivers events as Firebase Cloud Messaging pushes. Without a
// credentials file it runs in mock mode and only logs what it would send,
// which keeps development environments free of Firebase accounts.
type FCM struct {
	client *messaging.Client
	tokens []string
	mock   bool
	logger zerolog.Logger
}

// NewFCM initializes the Firebase messaging client. A missing or empty
// credentials file selects mock mode rather than failing.
func NewFCM(ctx context.Context, credentialsFile string, tokens []string, logger zerolog.Logger) (*FCM, error) {
	if credentialsFile == "" {
		logger.Warn().Msg("No FCM credentials configured, using mock mode")
		return &FCM{mock: true, tokens: tokens, logger: logger}, nil
	}
	if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
		logger.Warn().Str("credentials_file", credentialsFile).Msg("FCM credentials file not found, using mock mode")
		return &FCM{mock: true, tokens: tokens, logger: logger}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	logger.Info().Int("devices", len(tokens)).Msg("FCM notifier initialized")
	return &FCM{client: client, tokens: tokens, logger: logger}, nil
}

// Name identifies the channel in logs.
func (f *FCM) Name() string {
	if f.mock {
		return "fcm_mock"
	}
	return "fcm"
}

// Mock reports whether the channel only logs instead of sending.
func (f *FCM) Mock() bool { return f.mock }

// Send pushes the event to every registered device in one multicast.
func (f *FCM) Send(ctx context.Context, ev events.Event) error {
	if len(f.tokens) == 0 {
		return nil
	}

	title := titleFor(ev)
	data := map[string]string{
		"kind":   string(ev.Kind),
		"bot_id": ev.BotID,
		"symbol": ev.Symbol,
	}

	if f.mock {
		f.logger.Info().
			Str("channel", "fcm_mock").
			Str("title", title).
			Str("body", ev.Message).
			Int("devices", len(f.tokens)).
			Msg("Mock FCM notification (not sent)")
		return nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  ev.Message,
		},
		Data: data,
	}
	if ev.Kind == events.KindBotStartFailed {
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
		msg.APNS = &messaging.APNSConfig{Headers: map[string]string{"apns-priority": "10"}}
	}

	resp, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast: %w", err)
	}
	if resp.FailureCount > 0 {
		f.logger.Warn().
			Int("failed", resp.FailureCount).
			Int("delivered", resp.SuccessCount).
			Msg("Some FCM deliveries failed")
	}
	return nil
}
