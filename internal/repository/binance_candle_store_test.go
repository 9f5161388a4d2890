package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"TrendConfirm/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineServer(t *testing.T, open time.Time, n int, step time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows := make([][]interface{}, 0, n)
		for i := 0; i < n && i < limit; i++ {
			ot := open.Add(time.Duration(i) * step).UnixMilli()
			px := strconv.FormatFloat(100+float64(i), 'f', 2, 64)
			rows = append(rows, []interface{}{
				ot, px, px, px, px, "10", ot + step.Milliseconds() - 1, "1000", 5, "5", "500", "0",
			})
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
}

func TestBinanceLatestDropsFormingBar(t *testing.T) {
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := klineServer(t, open, 4, 5*time.Minute)
	defer srv.Close()

	s := NewBinanceCandleStore(srv.URL, 100)
	// the fourth bar closes at 12:20, after now
	s.now = func() time.Time { return open.Add(17 * time.Minute) }

	got, err := s.GetLatestNCandles(context.Background(), "BTCUSDT", 3, models.TF5m)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, open.Add(5*time.Minute), got[0].Timestamp, "timestamp is close time")
	assert.Equal(t, open.Add(15*time.Minute), got[2].Timestamp)
	assert.Equal(t, 102.0, got[2].Close)
	assert.Equal(t, models.TF5m, got[0].Timeframe)
}

func TestBinanceGetCandlesFiltersRange(t *testing.T) {
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := klineServer(t, open, 10, time.Minute)
	defer srv.Close()

	s := NewBinanceCandleStore(srv.URL, 100)
	s.now = func() time.Time { return open.Add(time.Hour) }

	got, err := s.GetCandles(context.Background(), "BTCUSDT", open.Add(3*time.Minute), open.Add(5*time.Minute), models.TF1m)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, open.Add(3*time.Minute), got[0].Timestamp)
	assert.Equal(t, open.Add(5*time.Minute), got[2].Timestamp)
}

func TestBinanceRejectsUnknownTimeframe(t *testing.T) {
	s := NewBinanceCandleStore("http://127.0.0.1:0", 1)
	_, err := s.GetLatestNCandles(context.Background(), "X", 5, models.Timeframe("1h"))
	assert.Error(t, err)
}
