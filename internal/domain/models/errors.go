package models

import "errors"

// Recoverable pipeline conditions. None of them stops signal generation.
var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrStaleData           = errors.New("stale data")
	ErrSchemaMismatch      = errors.New("feature schema mismatch")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrInferenceTimeout    = errors.New("inference timeout")
	ErrUnderConfident      = errors.New("model confidence below trust threshold")
	ErrConfirmationExpired = errors.New("confirmation expired")
	ErrOutOfOrder          = errors.New("bar out of order")
)
