package repository

import (
	"context"
	"time"

	"TrendConfirm/internal/domain/models"
)

// CandleStore provides read-only access to closed candles.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf models.Timeframe) ([]models.Candle, error)
}

// BarStream delivers closed candles from a live feed.
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalPublisher hands sized order intents to the execution collaborator.
type SignalPublisher interface {
	PublishIntent(ctx context.Context, intent models.OrderIntent) error
	Close() error
}

// DegradedNotifier reports classifier bypasses to monitoring.
type DegradedNotifier interface {
	NotifyDegraded(ctx context.Context, ev models.DegradedEvent) error
}

// SignalStore keeps an audit trail of emitted intents.
type SignalStore interface {
	SaveIntent(ctx context.Context, intent models.OrderIntent) error
	ListIntents(ctx context.Context, symbol string, limit int) ([]models.OrderIntent, error)
}

// StateStore snapshots per-symbol pipeline state between bars.
type StateStore interface {
	Save(ctx context.Context, st *models.SymbolState) error
	Load(ctx context.Context, symbol string) (*models.SymbolState, error)
}

type Metrics interface {
	RecordBar(symbol string, tf models.Timeframe)
	RecordDetection(symbol string, src models.Source, dir models.Direction)
	RecordTransition(symbol string, status models.ConfirmationStatus)
	RecordDegraded(symbol, reason string)
	RecordDropped(symbol, reason string)
	RecordIntent(symbol string, size float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
