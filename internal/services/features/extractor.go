package features

import (
	"fmt"
	"math"
	"time"

	"TrendConfirm/internal/domain/models"
)

// SchemaVersion identifies the feature layout produced by Extractor.
const SchemaVersion = "v1"

// MinWindow is the smallest window that fits every indicator (ADX needs 2*14+1).
const MinWindow = 30

// FeatureNames lists the v1 columns in vector order.
var FeatureNames = []string{
	"cmo_14",
	"volume_zscore",
	"trend_acceleration_ema7",
	"regime_volatility",
	"bb_width",
	"adx_14",
	"plus_di_14",
	"minus_di_14",
	"atr_14_normalized",
	"volume_ratio_ema3",
	"candle_relative_body",
	"upper_shadow_ratio",
	"lower_shadow_ratio",
	"price_vs_vwap",
	"bb_position",
	"log_return_1",
	"realized_volatility",
}

// FeatureLength is the number of values in a v1 vector.
var FeatureLength = len(FeatureNames)

const (
	shortVolWindow = 20
	bbPeriod       = 20
	bbK            = 2.0
	dmiPeriod      = 14
)

// Extractor turns a rolling candle window into a FeatureVector.
type Extractor struct {
	window    int
	timeframe models.Timeframe
}

func NewExtractor(window int, tf models.Timeframe) (*Extractor, error) {
	if window < MinWindow {
		return nil, fmt.Errorf("features: window %d below minimum %d", window, MinWindow)
	}
	if tf.Duration() == 0 {
		return nil, fmt.Errorf("features: unknown timeframe %q", tf)
	}
	return &Extractor{window: window, timeframe: tf}, nil
}

func (e *Extractor) Window() int { return e.window }

func (e *Extractor) Timeframe() models.Timeframe { return e.timeframe }

// Extract computes the v1 vector from the newest Window() candles.
// candles must be ordered oldest first.
func (e *Extractor) Extract(candles []models.Candle, now time.Time) (models.FeatureVector, error) {
	if len(candles) < e.window {
		return models.FeatureVector{}, fmt.Errorf("%w: have %d candles, need %d",
			models.ErrInsufficientHistory, len(candles), e.window)
	}
	win := candles[len(candles)-e.window:]
	last := win[len(win)-1]
	if age := now.Sub(last.Timestamp); age > e.timeframe.Duration() {
		return models.FeatureVector{}, fmt.Errorf("%w: newest bar %s is %s old",
			models.ErrStaleData, last.Timestamp.Format(time.RFC3339), age)
	}

	closes := make([]float64, len(win))
	volumes := make([]float64, len(win))
	for i, c := range win {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	returns := ComputeLogReturns(win)

	vMean := mean(volumes)
	vStd := stddev(volumes, vMean)

	ema7 := EMA(closes, 7)
	n := len(ema7)
	accel := (ema7[n-1] - ema7[n-2]) - (ema7[n-2] - ema7[n-3])

	rvAll := RealizedVolatility(returns, len(returns))
	rvShort := RealizedVolatility(returns, shortVolWindow)

	mid, upper, lower := Bollinger(closes, bbPeriod, bbK)
	plusDI, minusDI, adx := DMI(win, dmiPeriod)
	atr := ATR(win, dmiPeriod)

	volEMA3 := EMA(volumes, 3)
	rng := last.High - last.Low
	vwap := VWAP(win)

	values := []float64{
		CMO(closes, 14),
		ratio(last.Volume-vMean, vStd),
		ratio(accel, last.Close),
		ratio(rvShort, rvAll),
		ratio(upper-lower, mid),
		adx,
		plusDI,
		minusDI,
		ratio(atr, last.Close),
		ratio(last.Volume, volEMA3[len(volEMA3)-1]),
		ratio(math.Abs(last.Close-last.Open), rng),
		ratio(last.High-math.Max(last.Open, last.Close), rng),
		ratio(math.Min(last.Open, last.Close)-last.Low, rng),
		ratio(last.Close-vwap, vwap),
		ratio(last.Close-lower, upper-lower),
		returns[len(returns)-1],
		rvAll,
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[i] = 0
		}
	}

	return models.FeatureVector{
		Symbol:        last.Symbol,
		Timestamp:     last.Timestamp,
		SchemaVersion: SchemaVersion,
		Values:        values,
	}, nil
}
