package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrendConfirm/internal/domain/models"
)

type memCandleStore struct {
	bars map[string][]models.Candle
	err  error
}

func newMemCandleStore() *memCandleStore {
	return &memCandleStore{bars: map[string][]models.Candle{}}
}

func (s *memCandleStore) add(symbol string, bars []models.Candle) {
	for _, b := range bars {
		b.Symbol = symbol
		s.bars[symbol] = append(s.bars[symbol], b)
	}
}

func (s *memCandleStore) GetCandles(_ context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Candle
	for _, b := range s.bars[symbol] {
		if b.Timeframe == tf && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memCandleStore) GetLatestNCandles(context.Context, string, int, models.Timeframe) ([]models.Candle, error) {
	return nil, nil
}

func TestMergeBarsOrdersByTimeFiveMinuteFirst(t *testing.T) {
	var b1, b5 []models.Candle
	for i := 10; i >= 1; i-- {
		b1 = append(b1, mkBar(models.TF1m, t0.Add(time.Duration(i)*time.Minute), 100))
	}
	b5 = append(b5, mkBar(models.TF5m, t0.Add(10*time.Minute), 100), mkBar(models.TF5m, t0.Add(5*time.Minute), 100))

	merged := MergeBars(b5, b1)
	require.Len(t, merged, 12)
	for i := 1; i < len(merged); i++ {
		assert.False(t, merged[i].Timestamp.Before(merged[i-1].Timestamp), "index %d", i)
	}
	for i, b := range merged {
		if b.Timeframe != models.TF5m {
			continue
		}
		require.Less(t, i+1, len(merged))
		next := merged[i+1]
		assert.Equal(t, models.TF1m, next.Timeframe)
		assert.Equal(t, b.Timestamp, next.Timestamp)
	}
}

func TestLoadMerged(t *testing.T) {
	store := newMemCandleStore()
	store.add(testSymbol, scenarioBars(t0, t0.Add(20*time.Minute), flat, flat))
	uc := NewCandlesUseCase(store)
	ctx := context.Background()

	bars, err := uc.LoadMerged(ctx, GetCandlesParams{Symbol: testSymbol, From: t0, To: t0.Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, bars, 12)
	assert.Equal(t, models.TF5m, bars[4].Timeframe)

	_, err = uc.LoadMerged(ctx, GetCandlesParams{Symbol: testSymbol, From: t0, To: t0.Add(20 * time.Minute), Limit: 10})
	assert.ErrorIs(t, err, ErrTooManyBars)

	_, err = uc.LoadMerged(ctx, GetCandlesParams{From: t0, To: t0.Add(time.Hour)})
	assert.Error(t, err)
	_, err = uc.LoadMerged(ctx, GetCandlesParams{Symbol: testSymbol, From: t0.Add(time.Hour), To: t0})
	assert.Error(t, err)
}

func TestReplayerRunsSymbolsOnBarClock(t *testing.T) {
	store := newMemCandleStore()
	store.add(testSymbol, scenarioBars(t0, confirmEnd, flat, confirm1m))
	store.add("ETHUSDT", scenarioBars(t0, confirmEnd, flat, flat))
	perSymbol := len(scenarioBars(t0, confirmEnd, flat, flat))

	cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.8, act: 0.6}
	h := newHarness(t, cl, defaultConfirm())
	pub := &fakePublisher{}
	e := NewEngine(EngineConfig{}, h.c, testAdjuster(t, 0.5), pub)
	r := NewReplayer(e, NewCandlesUseCase(store), 2, nil)

	sum, err := r.Run(context.Background(), []string{"ETHUSDT", testSymbol}, t0, confirmEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{testSymbol, "ETHUSDT"}, sum.SortedSymbols())
	assert.Equal(t, t0, sum.From)
	assert.Equal(t, confirmEnd, sum.To)

	btc := sum.Symbols[testSymbol]
	assert.Equal(t, int64(perSymbol), btc.Bars)
	assert.Equal(t, int64(1), btc.Confirmed)
	assert.Equal(t, int64(1), btc.Published)
	assert.Zero(t, btc.Rejected)

	// ETH opens a primary too but a flat 1m series never confirms it
	eth := sum.Symbols["ETHUSDT"]
	assert.Equal(t, int64(perSymbol), eth.Bars)
	assert.Zero(t, eth.Confirmed)

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, testSymbol, got[0].Signal.Symbol)
}

func TestReplayerErrors(t *testing.T) {
	cl := &fakeClassifier{act: 0.6}
	h := newHarness(t, cl, defaultConfirm())
	store := newMemCandleStore()
	e := NewEngine(EngineConfig{}, h.c, testAdjuster(t, 0.5), &fakePublisher{})
	r := NewReplayer(e, NewCandlesUseCase(store), 0, nil)
	ctx := context.Background()

	_, err := r.Run(ctx, nil, t0, t0.Add(time.Hour))
	assert.Error(t, err)

	boom := errors.New("clickhouse down")
	store.err = boom
	_, err = r.Run(ctx, []string{testSymbol}, t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, boom)
}
