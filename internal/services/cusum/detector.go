package cusum

import (
	"fmt"
	"math"
	"time"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/services/features"
)

// BasisPoints scales log returns into CUSUM observations.
const BasisPoints = 1e4

// Params are the drift (k) and threshold (h) of one detector.
type Params struct {
	K float64 `yaml:"k" json:"k"`
	H float64 `yaml:"h" json:"h"`
}

func (p Params) Validate() error {
	if math.IsNaN(p.K) || math.IsNaN(p.H) {
		return fmt.Errorf("cusum: parameters must be numbers")
	}
	if p.H <= 0 {
		return fmt.Errorf("cusum: threshold h must be > 0, got %v", p.H)
	}
	if p.K < 0 {
		return fmt.Errorf("cusum: drift k must be >= 0, got %v", p.K)
	}
	return nil
}

// Detector is a two-sided CUSUM for one timeframe. It holds no per-symbol
// state; callers pass the state they own to Step.
type Detector struct {
	tf     models.Timeframe
	params Params
}

func NewDetector(tf models.Timeframe, p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", tf, err)
	}
	return &Detector{tf: tf, params: p}, nil
}

func (d *Detector) Timeframe() models.Timeframe { return d.tf }
func (d *Detector) Params() Params              { return d.params }

// NewState returns a zeroed state carrying this detector's parameters.
func (d *Detector) NewState() models.CUSUMState {
	return models.CUSUMState{DriftK: d.params.K, ThresholdH: d.params.H}
}

// Step feeds observation x into st and reports a change if either sum
// crosses h. On a trigger both sums reset and the reference mean moves to x.
func (d *Detector) Step(symbol string, st *models.CUSUMState, x float64, ts time.Time) models.DetectionSignal {
	k, h := d.params.K, d.params.H
	st.DriftK, st.ThresholdH = k, h
	st.LastUpdate = ts
	st.Observations++

	sig := models.DetectionSignal{
		Symbol:    symbol,
		Timeframe: d.tf,
		Source:    models.SourceCUSUM,
		Timestamp: ts,
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return sig
	}

	st.PositiveSum = math.Max(0, st.PositiveSum+(x-st.ReferenceMean-k))
	st.NegativeSum = math.Max(0, st.NegativeSum+(st.ReferenceMean-x-k))

	switch {
	case st.PositiveSum > h:
		sig.Direction = models.DirectionUp
		sig.Confidence = math.Min(1, st.PositiveSum/h)
	case st.NegativeSum > h:
		sig.Direction = models.DirectionDown
		sig.Confidence = math.Min(1, st.NegativeSum/h)
	default:
		return sig
	}
	st.PositiveSum, st.NegativeSum = 0, 0
	st.ReferenceMean = x
	return sig
}

// SetReferenceMean is the only way to move the mean between triggers.
func SetReferenceMean(st *models.CUSUMState, m float64) {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return
	}
	st.ReferenceMean = m
}

// Observation returns the close-to-close log return of cur in basis points.
func Observation(prev, cur models.Candle) float64 {
	return features.LogReturn(prev.Close, cur.Close) * BasisPoints
}
