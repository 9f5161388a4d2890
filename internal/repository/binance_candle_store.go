package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

const binancePageLimit = 1000

// BinanceCandleStore reads closed klines from the Binance REST API. It
// stands in for ClickHouse when no local history is kept.
type BinanceCandleStore struct {
	client  *binance.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewBinanceCandleStore uses the public endpoints only; no keys are needed.
// baseURL overrides the API host when set.
func NewBinanceCandleStore(baseURL string, perSec float64) *BinanceCandleStore {
	c := binance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &BinanceCandleStore{
		client:  c,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		now:     time.Now,
	}
}

var _ domrepo.CandleStore = (*BinanceCandleStore)(nil)

// GetCandles pages through [from, to] by bar close time.
func (s *BinanceCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error) {
	d := tf.Duration()
	if d == 0 {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}

	var out []models.Candle
	start := from.Add(-d)
	for !start.After(to) {
		page, err := s.fetch(ctx, symbol, tf, start, to.Add(-d), binancePageLimit)
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
				out = append(out, c)
			}
		}
		if len(page) < binancePageLimit {
			break
		}
		start = page[len(page)-1].OpenTime().Add(time.Millisecond)
	}
	return out, nil
}

// GetLatestNCandles returns up to n newest closed bars, oldest first.
func (s *BinanceCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf models.Timeframe) ([]models.Candle, error) {
	d := tf.Duration()
	if d == 0 {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	if n <= 0 {
		return nil, nil
	}
	if n > binancePageLimit {
		n = binancePageLimit
	}
	// one extra for the bar still forming
	page, err := s.fetch(ctx, symbol, tf, time.Time{}, time.Time{}, n+1)
	if err != nil {
		return nil, err
	}
	if len(page) > n {
		page = page[len(page)-n:]
	}
	return page, nil
}

// fetch drops bars whose close time lies in the future.
func (s *BinanceCandleStore) fetch(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time, limit int) ([]models.Candle, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := s.client.NewKlinesService().Symbol(symbol).Interval(string(tf)).Limit(limit)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, tf, err)
	}

	now := s.now()
	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(symbol, tf, k)
		if err != nil {
			return nil, err
		}
		if c.Timestamp.After(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func klineToCandle(symbol string, tf models.Timeframe, k *binance.Kline) (models.Candle, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("kline %s@%d: %w", symbol, k.OpenTime, err)
		}
		vals[i] = v
	}
	return models.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Timestamp: time.UnixMilli(k.OpenTime).UTC().Add(tf.Duration()),
	}, nil
}
