package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	pkgkafka "TrendConfirm/pkg/kafka"
)

// BarSink accepts closed bars; the BarGuard in production.
type BarSink interface {
	Submit(ctx context.Context, bar models.Candle) error
}

// KafkaBarsHandler decodes closed candles from the bars topic.
type KafkaBarsHandler struct {
	topic   string
	sink    BarSink
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, sink BarSink, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// barMessage accepts ts as RFC3339 or unix milliseconds.
type barMessage struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"tf"`
	Open      float64         `json:"open"`
	High      float64         `json:"high"`
	Low       float64         `json:"low"`
	Close     float64         `json:"close"`
	Volume    float64         `json:"volume"`
	TS        json.RawMessage `json:"ts"`
}

func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	bar, err := DecodeBar(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	h.metrics.RecordLatency("ingest_lag_seconds", time.Since(bar.Timestamp).Seconds())
	return h.sink.Submit(ctx, bar)
}

// DecodeBar parses one bars-topic payload.
func DecodeBar(b []byte) (models.Candle, error) {
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return models.Candle{}, fmt.Errorf("decode bar: %w", err)
	}
	ts, err := parseTS(m.TS)
	if err != nil {
		return models.Candle{}, fmt.Errorf("decode bar %s: %w", m.Symbol, err)
	}
	return models.Candle{
		Symbol:    m.Symbol,
		Timeframe: models.Timeframe(m.Timeframe),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
		Timestamp: ts,
	}, nil
}

func parseTS(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing ts")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("ts: %w", err)
		}
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
