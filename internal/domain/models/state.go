package models

import "time"

// CUSUMState holds the running sums of one detector instance, keyed by
// (symbol, timeframe). PositiveSum and NegativeSum are never negative.
type CUSUMState struct {
	PositiveSum   float64   `json:"pos"`
	NegativeSum   float64   `json:"neg"`
	ReferenceMean float64   `json:"mean"`
	DriftK        float64   `json:"k"`
	ThresholdH    float64   `json:"h"`
	LastUpdate    time.Time `json:"last_update"`
	Observations  int64     `json:"n"`
}

// ConfirmationStatus is the per-symbol confirmation state.
type ConfirmationStatus string

const (
	StatusIdle      ConfirmationStatus = "idle"
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusExpired   ConfirmationStatus = "expired"
)

// ConfirmationState tracks at most one pending primary signal per symbol.
type ConfirmationState struct {
	Status   ConfirmationStatus `json:"status"`
	Pending  *DetectionSignal   `json:"pending,omitempty"`
	OpenedAt time.Time          `json:"opened_at"`
	Deadline time.Time          `json:"deadline"`
	// CooldownUntil blocks new primaries after a confirmation.
	CooldownUntil time.Time `json:"cooldown_until"`
}

// Reset returns the state machine to Idle, keeping the cooldown.
func (s *ConfirmationState) Reset() {
	s.Status = StatusIdle
	s.Pending = nil
	s.OpenedAt = time.Time{}
	s.Deadline = time.Time{}
}

// SymbolState is the complete state bundle of one symbol's pipeline.
// It is owned by exactly one worker and snapshotted between bars.
type SymbolState struct {
	Symbol       string                   `json:"symbol"`
	Confirmation ConfirmationState        `json:"confirmation"`
	CUSUM        map[Timeframe]CUSUMState `json:"cusum"`
	LastBar      map[Timeframe]Candle     `json:"last_bar"`
	LastEvent    time.Time                `json:"last_event"`
}

// NewSymbolState returns an Idle state for symbol.
func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{
		Symbol:       symbol,
		Confirmation: ConfirmationState{Status: StatusIdle},
		CUSUM:        make(map[Timeframe]CUSUMState, 2),
		LastBar:      make(map[Timeframe]Candle, 2),
	}
}
