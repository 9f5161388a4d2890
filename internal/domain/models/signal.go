package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a detected trend change.
type Direction int8

const (
	DirectionNone Direction = 0
	DirectionUp   Direction = 1
	DirectionDown Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Opposite reports whether d and o point in opposite, non-None directions.
func (d Direction) Opposite(o Direction) bool {
	return d != DirectionNone && o != DirectionNone && d != o
}

// Source tags which detector produced a DetectionSignal.
type Source string

const (
	SourceModel Source = "model"
	SourceCUSUM Source = "cusum"
)

// DetectionSignal is the single result type shared by the classifier and
// every CUSUM instance.
type DetectionSignal struct {
	Symbol     string    `json:"symbol"`
	Timeframe  Timeframe `json:"tf"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Timestamp  time.Time `json:"ts"`
}

// Fired reports whether the signal carries a direction.
func (s DetectionSignal) Fired() bool { return s.Direction != DirectionNone }

// ConfirmedSignal is emitted when a primary 5m signal is corroborated by the
// 1m detector inside the confirmation window.
type ConfirmedSignal struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Confidence   float64         `json:"confidence"`
	Timestamp    time.Time       `json:"ts"`
	Primary      DetectionSignal `json:"primary"`
	Confirmation DetectionSignal `json:"confirmation"`
	Sources      []Source        `json:"sources"`
}

// OrderIntent is a sized ConfirmedSignal handed to the execution side.
type OrderIntent struct {
	Signal     ConfirmedSignal `json:"signal"`
	Size       float64         `json:"size"`
	Volatility float64         `json:"volatility"`
	Price      float64         `json:"price"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
}

// DegradedEvent reports a cycle in which the classifier path was bypassed.
type DegradedEvent struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"ts"`
	Reason       string    `json:"reason"`
	ModelVersion string    `json:"model_version"`
}

// NewSignalID returns a unique id for a confirmed signal.
func NewSignalID() string { return uuid.NewString() }
