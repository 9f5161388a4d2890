package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	pkgch "TrendConfirm/pkg/clickhouse"

	"github.com/jmoiron/sqlx"
)

// IntentSchema returns the DDL for the order-intent audit table.
func IntentSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id         String,
            symbol     LowCardinality(String),
            ts         DateTime64(3, 'UTC'),
            direction  Int8,
            confidence Float64,
            size       Float64,
            price      Float64,
            stop_loss  Float64,
            take_profit Float64,
            volatility Float64,
            payload    String
        ) ENGINE = MergeTree
        ORDER BY (symbol, ts)`, table)}
}

// CHIntentStore is the audit trail of every sized intent, including the
// zero-size ones that are never published.
type CHIntentStore struct {
	db    *sqlx.DB
	table string
}

func NewCHIntentStore(ch *pkgch.Client, table string) *CHIntentStore {
	return &CHIntentStore{db: ch.DB(), table: table}
}

var _ domrepo.SignalStore = (*CHIntentStore)(nil)

func (s *CHIntentStore) SaveIntent(ctx context.Context, in models.OrderIntent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s
        (id, symbol, ts, direction, confidence, size, price, stop_loss, take_profit, volatility, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	sig := in.Signal
	if _, err := s.db.ExecContext(ctx, q,
		sig.ID, sig.Symbol, sig.Timestamp.UTC(), int8(sig.Direction), sig.Confidence,
		in.Size, in.Price, in.StopLoss, in.TakeProfit, in.Volatility, string(payload),
	); err != nil {
		return fmt.Errorf("insert intent %s: %w", sig.ID, err)
	}
	return nil
}

// ListIntents returns the newest intents for symbol, newest first.
func (s *CHIntentStore) ListIntents(ctx context.Context, symbol string, limit int) ([]models.OrderIntent, error) {
	q := fmt.Sprintf(`SELECT payload FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?`, s.table)
	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, q, symbol, limit); err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	out := make([]models.OrderIntent, 0, len(payloads))
	for _, p := range payloads {
		var in models.OrderIntent
		if err := json.Unmarshal([]byte(p), &in); err != nil {
			return nil, fmt.Errorf("decode intent: %w", err)
		}
		out = append(out, in)
	}
	return out, nil
}
