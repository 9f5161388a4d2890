package models

import "time"

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type StateRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,uppercase"`
}

type SignalsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,uppercase"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// PnLRequest reports realised PnL in account currency. A loss is negative.
type PnLRequest struct {
	PnL       float64    `json:"pnl" validate:"required"`
	Timestamp *time.Time `json:"ts"`
	Balance   float64    `json:"balance" validate:"gte=0"`
}
