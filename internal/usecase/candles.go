package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
)

// DefaultMergedLimit caps one symbol's merged replay stream, about 347 days
// of 1m bars plus their 5m bars.
const DefaultMergedLimit = 500000

// ErrTooManyBars means a replay range holds more bars than one pass loads.
var ErrTooManyBars = errors.New("too many bars for one replay")

// CandlesUseCase loads stored candles for replay.
type CandlesUseCase struct {
	store domrepo.CandleStore
}

func NewCandlesUseCase(store domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

// LoadMerged returns the symbol's 5m and 1m bars in [From, To] as one
// stream ordered by close time, 5m first on equal timestamps. A range over
// Limit bars fails with ErrTooManyBars instead of being cut short.
func (uc *CandlesUseCase) LoadMerged(ctx context.Context, p GetCandlesParams) ([]models.Candle, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = DefaultMergedLimit
	}

	b5, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, models.TF5m)
	if err != nil {
		return nil, fmt.Errorf("get 5m candles: %w", err)
	}
	b1, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, models.TF1m)
	if err != nil {
		return nil, fmt.Errorf("get 1m candles: %w", err)
	}

	if n := len(b5) + len(b1); n > p.Limit {
		return nil, fmt.Errorf("%w: %s has %d bars in range, limit %d, split the range",
			ErrTooManyBars, p.Symbol, n, p.Limit)
	}
	return MergeBars(b5, b1), nil
}

// MergeBars interleaves bars by timestamp; ties put 5m before 1m.
func MergeBars(sets ...[]models.Candle) []models.Candle {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]models.Candle, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return tfRank(a.Timeframe) < tfRank(b.Timeframe)
	})
	return out
}

func tfRank(tf models.Timeframe) int {
	if tf == models.TF5m {
		return 0
	}
	return 1
}
