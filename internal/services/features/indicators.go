package features

import (
	"math"

	"TrendConfirm/internal/domain/models"
)

// EMA returns the exponential moving average series seeded with xs[0].
func EMA(xs []float64, period int) []float64 {
	if len(xs) == 0 || period <= 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// CMO returns the Chande momentum oscillator over the last period changes,
// scaled to [-1, 1].
func CMO(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}
	var up, down float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			up += d
		} else {
			down -= d
		}
	}
	if up+down == 0 {
		return 0
	}
	return (up - down) / (up + down)
}

// Bollinger returns the middle, upper and lower band of the last period closes.
func Bollinger(closes []float64, period int, k float64) (mid, upper, lower float64) {
	if period <= 1 || len(closes) < period {
		return 0, 0, 0
	}
	win := closes[len(closes)-period:]
	mid = mean(win)
	sd := stddev(win, mid)
	return mid, mid + k*sd, mid - k*sd
}

// DMI returns Wilder's +DI, -DI and ADX at the last candle, all in [0, 1].
func DMI(candles []models.Candle, period int) (plusDI, minusDI, adx float64) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, 0, 0
	}
	trs := trueRanges(candles)
	plusDM := make([]float64, len(trs))
	minusDM := make([]float64, len(trs))
	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	p := float64(period)
	sTR, sPlus, sMinus := sum(trs[:period]), sum(plusDM[:period]), sum(minusDM[:period])
	dxs := make([]float64, 0, len(trs)-period+1)
	di := func() (float64, float64, float64) {
		if sTR == 0 {
			return 0, 0, 0
		}
		pd, md := sPlus/sTR, sMinus/sTR
		if pd+md == 0 {
			return pd, md, 0
		}
		return pd, md, math.Abs(pd-md) / (pd + md)
	}
	var dx float64
	plusDI, minusDI, dx = di()
	dxs = append(dxs, dx)
	for i := period; i < len(trs); i++ {
		sTR = sTR - sTR/p + trs[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		plusDI, minusDI, dx = di()
		dxs = append(dxs, dx)
	}
	adx = mean(dxs[:period])
	for _, v := range dxs[period:] {
		adx = (adx*(p-1) + v) / p
	}
	return plusDI, minusDI, adx
}

// VWAP returns the volume weighted typical price of the candles.
func VWAP(candles []models.Candle) float64 {
	var pv, v float64
	for _, c := range candles {
		tp := (c.High + c.Low + c.Close) / 3
		pv += tp * c.Volume
		v += c.Volume
	}
	if v == 0 {
		return 0
	}
	return pv / v
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
