package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"TrendConfirm/internal/domain/models"
)

// Params bounds position sizing and stop placement.
type Params struct {
	MinActionableConfidence float64
	MinSize                 float64
	MaxSize                 float64
	SizeStep                float64
	TargetVolatility        float64
	VolatilityFloor         float64
	StopLossATR             float64
	TakeProfitATR           float64
}

func (p Params) Validate() error {
	switch {
	case p.MinActionableConfidence < 0 || p.MinActionableConfidence > 1:
		return fmt.Errorf("risk: min_actionable_confidence must be in [0,1]")
	case p.MinSize < 0 || p.MaxSize <= 0 || p.MinSize > p.MaxSize:
		return fmt.Errorf("risk: need 0 <= min_size <= max_size and max_size > 0")
	case p.SizeStep < 0:
		return fmt.Errorf("risk: size_step must be >= 0")
	case p.TargetVolatility <= 0:
		return fmt.Errorf("risk: target_volatility must be > 0")
	case p.VolatilityFloor <= 0:
		return fmt.Errorf("risk: volatility_floor must be > 0")
	case p.StopLossATR < 0 || p.TakeProfitATR < 0:
		return fmt.Errorf("risk: ATR multipliers must be >= 0")
	}
	return nil
}

// Adjuster sizes confirmed signals. It is stateless and safe to share.
type Adjuster struct {
	p    Params
	step decimal.Decimal
}

func NewAdjuster(p Params) (*Adjuster, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Adjuster{p: p, step: decimal.NewFromFloat(p.SizeStep)}, nil
}

func (a *Adjuster) Params() Params { return a.p }

// Size returns the position size for a signal of the given confidence under
// the given volatility estimate. It is non-decreasing in confidence and
// non-increasing in volatility; below the actionable confidence it is 0.
func (a *Adjuster) Size(confidence, volatility float64) float64 {
	if math.IsNaN(confidence) || confidence < a.p.MinActionableConfidence {
		return 0
	}
	if math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		return 0
	}
	confidence = math.Min(confidence, 1)

	raw := a.p.MaxSize * confidence * a.p.TargetVolatility / math.Max(volatility, a.p.VolatilityFloor)
	size := decimal.NewFromFloat(raw)
	if a.step.IsPositive() {
		size = size.Div(a.step).Floor().Mul(a.step)
	}
	min, max := decimal.NewFromFloat(a.p.MinSize), decimal.NewFromFloat(a.p.MaxSize)
	if size.LessThan(min) {
		size = min
	}
	if size.GreaterThan(max) {
		size = max
	}
	out, _ := size.Float64()
	return out
}

// Stops places ATR-multiple stop-loss and take-profit levels. The multiples
// widen in calm regimes and tighten in volatile ones by clip(1/volRegime, 0.5, 2).
func (a *Adjuster) Stops(entry float64, dir models.Direction, atr, volRegime float64) (stopLoss, takeProfit float64) {
	if entry <= 0 || atr <= 0 || math.IsNaN(atr) {
		return entry, entry
	}
	adj := 1 / math.Max(volRegime, 0.1)
	if math.IsNaN(adj) {
		adj = 1
	}
	adj = math.Min(2, math.Max(0.5, adj))

	sl := atr * a.p.StopLossATR * adj
	tp := atr * a.p.TakeProfitATR * adj
	switch dir {
	case models.DirectionUp:
		stopLoss, takeProfit = entry-sl, entry+tp
	case models.DirectionDown:
		stopLoss, takeProfit = entry+sl, entry-tp
	default:
		return entry, entry
	}
	return math.Max(0, stopLoss), math.Max(0, takeProfit)
}
