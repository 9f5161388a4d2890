package models

import "time"

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
)

// Duration returns the bar interval of the timeframe, or 0 if unknown.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	default:
		return 0
	}
}

// Candle is a closed OHLCV bar. Timestamp is the bar close time.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"tf"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"ts"`
}

// OpenTime returns the start of the bar bucket.
func (c Candle) OpenTime() time.Time {
	return c.Timestamp.Add(-c.Timeframe.Duration())
}
