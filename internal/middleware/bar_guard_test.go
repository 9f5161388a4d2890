package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TrendConfirm/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

type fakeProc struct {
	mu       sync.Mutex
	got      []models.Candle
	busyLeft int
	err      error
}

func (f *fakeProc) Submit(_ context.Context, bar models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.busyLeft > 0 {
		f.busyLeft--
		return errBusy
	}
	f.got = append(f.got, bar)
	return nil
}

func (f *fakeProc) bars() []models.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Candle(nil), f.got...)
}

type countingMetrics struct {
	mu      sync.Mutex
	dropped map[string]int
	errors  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordBar(string, models.Timeframe)                      {}
func (m *countingMetrics) RecordDetection(string, models.Source, models.Direction) {}
func (m *countingMetrics) RecordTransition(string, models.ConfirmationStatus)      {}
func (m *countingMetrics) RecordDegraded(string, string)                           {}
func (m *countingMetrics) RecordIntent(string, float64)                            {}
func (m *countingMetrics) RecordLatency(string, float64)                           {}
func (m *countingMetrics) RecordDropped(_ string, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

var base = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func bar(sym string, tf models.Timeframe, ts time.Time) models.Candle {
	return models.Candle{Symbol: sym, Timeframe: tf, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3, Timestamp: ts}
}

func TestValidateBar(t *testing.T) {
	ok := bar("BTCUSDT", models.TF1m, base)
	require.NoError(t, ValidateBar(ok))

	tests := []struct {
		name string
		mut  func(*models.Candle)
	}{
		{"empty symbol", func(c *models.Candle) { c.Symbol = "" }},
		{"bad timeframe", func(c *models.Candle) { c.Timeframe = "15m" }},
		{"zero time", func(c *models.Candle) { c.Timestamp = time.Time{} }},
		{"zero price", func(c *models.Candle) { c.Close = 0 }},
		{"negative volume", func(c *models.Candle) { c.Volume = -1 }},
		{"high below close", func(c *models.Candle) { c.High = 100.2 }},
		{"low above open", func(c *models.Candle) { c.Low = 100.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok
			tt.mut(&c)
			assert.ErrorIs(t, ValidateBar(c), ErrInvalidBar)
		})
	}
}

func TestGuardDropsDuplicatesPerTimeframe(t *testing.T) {
	p := &fakeProc{}
	m := newCountingMetrics()
	g := NewBarGuard(p, m, WithMaxBarsPerSecond(0))
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base)))
	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF5m, base)))
	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base)))
	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base.Add(-time.Minute))))
	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base.Add(time.Minute))))

	assert.Len(t, p.bars(), 3)
	assert.Equal(t, 2, m.dropped["duplicate"])
}

func TestGuardAllowList(t *testing.T) {
	p := &fakeProc{}
	m := newCountingMetrics()
	g := NewBarGuard(p, m, WithSymbols([]string{"ETHUSDT"}))

	require.NoError(t, g.Submit(context.Background(), bar("BTCUSDT", models.TF1m, base)))
	assert.Empty(t, p.bars())
	assert.Equal(t, 1, m.dropped["unknown_symbol"])
}

func TestGuardPacesFastFeedWithoutDropping(t *testing.T) {
	p := &fakeProc{}
	m := newCountingMetrics()
	g := NewBarGuard(p, m, WithMaxBarsPerSecond(20))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 30; i++ {
		require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base.Add(time.Duration(i)*time.Minute))))
	}
	// burst of 20, the other 10 arrive at 20/s
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, p.bars(), 30)
	assert.Empty(t, m.dropped)
}

func TestGuardThrottleHonoursContext(t *testing.T) {
	p := &fakeProc{}
	g := NewBarGuard(p, newCountingMetrics(), WithMaxBarsPerSecond(1))

	require.NoError(t, g.Submit(context.Background(), bar("BTCUSDT", models.TF1m, base)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := bar("BTCUSDT", models.TF1m, base.Add(time.Minute))
	assert.ErrorIs(t, g.Submit(ctx, next), context.Canceled)
	assert.Len(t, p.bars(), 1)

	// the refused bar is not remembered as seen
	require.NoError(t, g.Submit(context.Background(), next))
	assert.Len(t, p.bars(), 2)
}

func TestGuardRedeliversAfterDownstreamError(t *testing.T) {
	p := &fakeProc{err: errors.New("down")}
	g := NewBarGuard(p, newCountingMetrics(), WithMaxBarsPerSecond(0))
	b := bar("BTCUSDT", models.TF1m, base)

	require.Error(t, g.Submit(context.Background(), b))
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	require.NoError(t, g.Submit(context.Background(), b))
	assert.Len(t, p.bars(), 1)
}

func TestGuardBuffersWhenBusyAndKeepsOrder(t *testing.T) {
	p := &fakeProc{busyLeft: 2}
	m := newCountingMetrics()
	g := NewBarGuard(p, m, WithBusyError(errBusy), WithMaxBarsPerSecond(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base)))
	require.NoError(t, g.Submit(ctx, bar("BTCUSDT", models.TF1m, base.Add(time.Minute))))
	assert.Equal(t, 2, g.Buffered())

	g.Start(ctx)
	defer g.Stop()

	require.Eventually(t, func() bool { return len(p.bars()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := p.bars()
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
}

func TestGuardKeepsOrderWhileRetrying(t *testing.T) {
	p := &fakeProc{busyLeft: 2}
	m := newCountingMetrics()
	g := NewBarGuard(p, m, WithBusyError(errBusy), WithMaxBarsPerSecond(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	first := bar("BTCUSDT", models.TF1m, base.Add(time.Minute))
	second := bar("BTCUSDT", models.TF1m, base.Add(2*time.Minute))

	// the flusher takes first off the buffer and backs off after the second busy
	require.NoError(t, g.Submit(ctx, first))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Submit(ctx, second))

	require.Eventually(t, func() bool { return len(p.bars()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := p.bars()
	assert.Equal(t, first.Timestamp, got[0].Timestamp)
	assert.Equal(t, second.Timestamp, got[1].Timestamp)
	assert.Eventually(t, func() bool { return g.Buffered() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGuardPropagatesHardErrors(t *testing.T) {
	boom := errors.New("stopped")
	m := newCountingMetrics()
	g := NewBarGuard(&fakeProc{err: boom}, m, WithBusyError(errBusy))

	err := g.Submit(context.Background(), bar("BTCUSDT", models.TF1m, base))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.errors["guard_downstream"])
}
