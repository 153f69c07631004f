// Package notify pushes platform events to operators. A Notifier drains the
// event bus into the configured channels: Telegram messages to chat IDs and
// FCM pushes to registered devices. Send failures are logged and dropped,
// never propagated back into the trading path.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/events"
)

// sendTimeout bounds one delivery attempt per channel so a stalled push
// service cannot back the drain loop up.
const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev events.Event) error
}

// defaultKinds are the events worth interrupting an operator for. Status
// updates and log messages stay on the dashboard.
var defaultKinds = []events.Kind{
	events.KindBotStarted,
	events.KindBotStopped,
	events.KindBotStartFailed,
	events.KindTradeExecuted,
}

// Options select which event kinds reach the channels.
type Options struct {
	// Kinds filters the subscription; empty selects the default alert set.
	Kinds []events.Kind
}

// Notifier fans bus events out to every configured sender.
type Notifier struct {
	senders []Sender
	sub     *events.Subscription
	logger  zerolog.Logger
	done    chan struct{}
}

// Start subscribes to the bus and starts the drain loop. With no senders
// configured it returns nil and the caller skips Close.
func Start(bus *events.Bus, senders []Sender, opts Options, logger zerolog.Logger) *Notifier {
	if len(senders) == 0 {
		return nil
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = defaultKinds
	}

	n := &Notifier{
		senders: senders,
		sub:     bus.Subscribe(events.DefaultQueueSize, kinds...),
		logger:  logger.With().Str("component", "notify").Logger(),
		done:    make(chan struct{}),
	}
	go n.run()

	names := make([]string, 0, len(senders))
	for _, s := range senders {
		names = append(names, s.Name())
	}
	n.logger.Info().Strs("channels", names).Msg("Notifier started")
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.sub.Events() {
		for _, sender := range n.senders {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := sender.Send(ctx, ev); err != nil {
				n.logger.Warn().
					Err(err).
					Str("channel", sender.Name()).
					Str("kind", string(ev.Kind)).
					Str("bot_id", ev.BotID).
					Msg("Failed to deliver notification")
			}
			cancel()
		}
	}
}

// Close detaches from the bus and waits for queued events to drain.
func (n *Notifier) Close() {
	n.sub.Close()
	<-n.done
}

// titleFor renders the one-line headline every channel shares.
func titleFor(ev events.Event) string {
	switch ev.Kind {
	case events.KindBotStarted:
		return fmt.Sprintf("Bot started: %s", ev.Symbol)
	case events.KindBotStopped:
		return fmt.Sprintf("Bot stopped: %s", ev.Symbol)
	case events.KindBotStartFailed:
		return fmt.Sprintf("Bot start failed: %s", ev.Symbol)
	case events.KindTradeExecuted:
		return fmt.Sprintf("Trade executed: %s", ev.Symbol)
	default:
		return string(ev.Kind)
	}
}
