package bot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// newTestManager wires a manager over the rig. Klines stay unseeded: ticks
// fail contained in the retry loop, so lifecycle tests never trade.
func newTestManager(r *rig) *Manager {
	return NewManager(r.deps, Options{Tick: time.Hour}, zerolog.Nop())
}

func managerConfig(id string, amount float64) Config {
	cfg := testConfig()
	cfg.BotID = id
	cfg.Amount = amount
	return cfg
}

func TestManagerStartBotAssignsID(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	b, err := m.StartBot(ctx, testConfig())
	require.NoError(t, err)
	defer m.StopAll(ctx)

	id := b.Config().BotID
	assert.NotEmpty(t, id)
	assert.True(t, b.Running())

	got, ok := m.GetBot(id)
	require.True(t, ok)
	assert.Same(t, b, got)

	statuses := m.StatusAll()
	require.Len(t, statuses, 1)
	assert.Equal(t, id, statuses[0].Config.BotID)
	assert.True(t, statuses[0].Running)
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	sub := r.bus.Subscribe(16, events.KindBotStartFailed)
	defer sub.Close()

	cfg := testConfig()
	cfg.Amount = 0
	_, err := m.StartBot(context.Background(), cfg)
	require.Error(t, err)
	assert.Empty(t, m.AllBots())
	awaitEvent(t, sub, events.KindBotStartFailed)
}

func TestManagerDuplicateIDRejected(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()
	sub := r.bus.Subscribe(16, events.KindBotStartFailed)
	defer sub.Close()

	first, err := m.StartBot(ctx, managerConfig("dup", 100))
	require.NoError(t, err)
	defer m.StopAll(ctx)

	_, err = m.StartBot(ctx, managerConfig("dup", 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	got, ok := m.GetBot("dup")
	require.True(t, ok)
	assert.Same(t, first, got, "the running bot must not be replaced")

	ev := awaitEvent(t, sub, events.KindBotStartFailed)
	assert.Equal(t, "dup", ev.BotID)
}

func TestManagerStartFailureReleasesEntry(t *testing.T) {
	r := newRig(testLimits())
	r.paper.SetFilters(exchange.SymbolFilters{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "BREAK",
	})
	m := newTestManager(r)
	sub := r.bus.Subscribe(16, events.KindBotStartFailed)
	defer sub.Close()

	_, err := m.StartBot(context.Background(), managerConfig("halted", 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start bot halted")

	_, ok := m.GetBot("halted")
	assert.False(t, ok, "a failed start must not leave a fleet entry behind")
	awaitEvent(t, sub, events.KindBotStartFailed)
}

func TestManagerRestartReplacesStoppedBot(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	old, err := m.StartBot(ctx, managerConfig("re", 100))
	require.NoError(t, err)
	require.NoError(t, m.StopBot(ctx, "re"))
	require.True(t, old.Stopped())

	fresh, err := m.StartBot(ctx, managerConfig("re", 100))
	require.NoError(t, err)
	defer m.StopAll(ctx)

	assert.NotSame(t, old, fresh)
	got, ok := m.GetBot("re")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.True(t, fresh.Running())
}

func TestManagerRemoveBot(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	_, err := m.StartBot(ctx, managerConfig("rm", 100))
	require.NoError(t, err)

	err = m.RemoveBot("rm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be stopped")

	require.NoError(t, m.StopBot(ctx, "rm"))
	require.NoError(t, m.RemoveBot("rm"))

	_, ok := m.GetBot("rm")
	assert.False(t, ok)

	err = m.RemoveBot("rm")
	assert.ErrorContains(t, err, "not found")
}

func TestManagerUnknownBotErrors(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	err := m.StopBot(ctx, "ghost")
	assert.ErrorContains(t, err, "not found")

	_, err = m.ManualTrade(ctx, "ghost", exchange.SideBuy, 0, 50)
	assert.ErrorContains(t, err, "not found")
}

func TestManagerAutonomousCountAndBudgets(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	_, err := m.StartBot(ctx, managerConfig("user-1", 100))
	require.NoError(t, err)

	auto := managerConfig("agent-1", 50)
	auto.Autonomous = true
	auto.StartedBy = StartedByDecisionAgent
	_, err = m.StartBot(ctx, auto)
	require.NoError(t, err)
	defer m.StopAll(ctx)

	assert.Equal(t, 1, m.AutonomousCount())
	assert.ElementsMatch(t, []float64{100, 50}, m.RunningBudgets())

	require.NoError(t, m.StopBot(ctx, "agent-1"))
	assert.Equal(t, 0, m.AutonomousCount())
	assert.ElementsMatch(t, []float64{100}, m.RunningBudgets())
}

func TestManagerAllBotsOrderedByStart(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	older := managerConfig("older", 100)
	older.StartedAt = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := managerConfig("newer", 100)
	newer.StartedAt = time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	_, err := m.StartBot(ctx, newer)
	require.NoError(t, err)
	_, err = m.StartBot(ctx, older)
	require.NoError(t, err)
	defer m.StopAll(ctx)

	bots := m.AllBots()
	require.Len(t, bots, 2)
	assert.Equal(t, "older", bots[0].Config().BotID)
	assert.Equal(t, "newer", bots[1].Config().BotID)
}

func TestManagerStopAll(t *testing.T) {
	r := newRig(testLimits())
	m := newTestManager(r)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.StartBot(ctx, managerConfig(id, 100))
		require.NoError(t, err)
	}

	require.NoError(t, m.StopAll(ctx))
	for _, st := range m.StatusAll() {
		assert.False(t, st.Running)
	}

	// Idempotent: nothing left running is not an error.
	require.NoError(t, m.StopAll(ctx))
}
