package repository

import (
	"context"
	"testing"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *models.SymbolState {
	ts := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	st := models.NewSymbolState("BTCUSDT")
	st.Confirmation = models.ConfirmationState{
		Status:   models.StatusPending,
		Pending:  &models.DetectionSignal{Symbol: "BTCUSDT", Timeframe: models.TF5m, Direction: models.DirectionUp, Confidence: 0.9, Source: models.SourceModel, Timestamp: ts},
		OpenedAt: ts,
		Deadline: ts.Add(5 * time.Minute),
	}
	st.CUSUM[models.TF1m] = models.CUSUMState{PositiveSum: 12.5, DriftK: 2, ThresholdH: 50, Observations: 42, LastUpdate: ts}
	st.LastBar[models.TF5m] = models.Candle{Symbol: "BTCUSDT", Timeframe: models.TF5m, Close: 101, Timestamp: ts}
	st.LastEvent = ts
	return st
}

func checkStateStore(t *testing.T, s domrepo.StateStore) {
	ctx := context.Background()

	missing, err := s.Load(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, models.StatusPending, got.Confirmation.Status)
	require.NotNil(t, got.Confirmation.Pending)
	assert.Equal(t, models.DirectionUp, got.Confirmation.Pending.Direction)
	assert.True(t, want.Confirmation.Deadline.Equal(got.Confirmation.Deadline))
	assert.Equal(t, 12.5, got.CUSUM[models.TF1m].PositiveSum)
	assert.Equal(t, int64(42), got.CUSUM[models.TF1m].Observations)
	assert.Equal(t, 101.0, got.LastBar[models.TF5m].Close)

	assert.Error(t, s.Save(ctx, &models.SymbolState{}))
}

func TestCacheStateStore(t *testing.T) {
	checkStateStore(t, NewCacheStateStore(cache.NewMemoryCache(), time.Hour))
}

func TestBadgerStateStore(t *testing.T) {
	s, err := OpenBadgerStateStore("", time.Hour)
	require.NoError(t, err)
	defer s.Close()
	checkStateStore(t, s)
}
