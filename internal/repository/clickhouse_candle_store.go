package repository

import (
	"context"
	"fmt"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	pkgch "TrendConfirm/pkg/clickhouse"
	"TrendConfirm/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// CandleSchema returns the DDL for the closed-candle table.
func CandleSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol LowCardinality(String),
            tf     LowCardinality(String),
            ts     DateTime64(3, 'UTC'),
            open   Float64,
            high   Float64,
            low    Float64,
            close  Float64,
            volume Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, tf, ts)`, table)}
}

type candleRow struct {
	Symbol string    `db:"symbol"`
	TF     string    `db:"tf"`
	TS     time.Time `db:"ts"`
	Open   float64   `db:"open"`
	High   float64   `db:"high"`
	Low    float64   `db:"low"`
	Close  float64   `db:"close"`
	Volume float64   `db:"volume"`
}

func (r candleRow) toModel() models.Candle {
	return models.Candle{
		Symbol:    r.Symbol,
		Timeframe: models.Timeframe(r.TF),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		Timestamp: r.TS.UTC(),
	}
}

// CHCandleStore reads closed candles from ClickHouse. Timestamps are bar
// close times.
type CHCandleStore struct {
	db    *sqlx.DB
	table string
	l     *logger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, table string, l *logger.Logger) *CHCandleStore {
	if l == nil {
		l = logger.Nop()
	}
	return &CHCandleStore{db: ch.DB(), table: table, l: l}
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT symbol, tf, ts, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND tf = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC`, s.table)

	var rows []candleRow
	if err := s.db.SelectContext(ctx, &rows, q, symbol, string(tf), from.UTC(), to.UTC()); err != nil {
		s.l.Error("clickhouse get_candles failed",
			logger.String("symbol", symbol),
			logger.String("tf", string(tf)),
			logger.Error(err),
		)
		return nil, fmt.Errorf("get candles: %w", err)
	}

	out := make([]models.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	s.l.Debug("clickhouse get_candles ok",
		logger.String("symbol", symbol),
		logger.String("tf", string(tf)),
		logger.Int("rows", len(out)),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// GetLatestNCandles returns up to n newest candles in ascending time order.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf models.Timeframe) ([]models.Candle, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
        SELECT symbol, tf, ts, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND tf = ?
        ORDER BY ts DESC
        LIMIT ?`, s.table)

	var rows []candleRow
	if err := s.db.SelectContext(ctx, &rows, q, symbol, string(tf), n); err != nil {
		s.l.Error("clickhouse latest_candles failed",
			logger.String("symbol", symbol),
			logger.Int("limit", n),
			logger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}

	out := make([]models.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toModel()
	}
	return out, nil
}

// SaveCandles bulk-inserts closed bars in one batch.
func (s *CHCandleStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (symbol, tf, ts, open, high, low, close, volume)`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert candle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
