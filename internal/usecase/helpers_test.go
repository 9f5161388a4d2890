package usecase

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/services/cusum"
	"TrendConfirm/internal/services/features"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const testSymbol = "BTCUSDT"

func mkBar(tf models.Timeframe, ts time.Time, close float64) models.Candle {
	return models.Candle{
		Symbol:    testSymbol,
		Timeframe: tf,
		Open:      close,
		High:      close * 1.0005,
		Low:       close * 0.9995,
		Close:     close,
		Volume:    10,
		Timestamp: ts,
	}
}

type fakeClassifier struct {
	mu    sync.Mutex
	dir   models.Direction
	conf  float64
	err   error
	act   float64
	calls int
}

func (f *fakeClassifier) Infer(_ context.Context, fv models.FeatureVector) (models.DetectionSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	sig := models.DetectionSignal{Symbol: fv.Symbol, Timeframe: models.TF5m, Source: models.SourceModel, Timestamp: fv.Timestamp}
	if f.err != nil {
		return sig, f.err
	}
	sig.Direction, sig.Confidence = f.dir, f.conf
	return sig, nil
}

func (f *fakeClassifier) ActThreshold() float64 { return f.act }
func (f *fakeClassifier) Version() string       { return "fake-1" }

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.DegradedEvent
}

func (n *fakeNotifier) NotifyDegraded(_ context.Context, ev models.DegradedEvent) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fakeMetrics struct {
	mu       sync.Mutex
	dropped  map[string]int
	degraded map[string]int
	status   map[models.ConfirmationStatus]int
	intents  int
	errors   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		dropped:  map[string]int{},
		degraded: map[string]int{},
		status:   map[models.ConfirmationStatus]int{},
		errors:   map[string]int{},
	}
}

func (m *fakeMetrics) RecordBar(string, models.Timeframe)                      {}
func (m *fakeMetrics) RecordDetection(string, models.Source, models.Direction) {}
func (m *fakeMetrics) RecordLatency(string, float64)                           {}

func (m *fakeMetrics) RecordTransition(_ string, s models.ConfirmationStatus) {
	m.mu.Lock()
	m.status[s]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordDegraded(_ string, reason string) {
	m.mu.Lock()
	m.degraded[reason]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordDropped(_ string, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordIntent(string, float64) {
	m.mu.Lock()
	m.intents++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

var (
	params5m = cusum.Params{K: 5, H: 150}
	params1m = cusum.Params{K: 2, H: 50}
)

type harness struct {
	c        *Confirmator
	st       *models.SymbolState
	history  []models.Candle
	notifier *fakeNotifier
	metrics  *fakeMetrics
}

func newHarness(t *testing.T, cl *fakeClassifier, cfg ConfirmConfig) *harness {
	t.Helper()
	ex, err := features.NewExtractor(30, models.TF5m)
	require.NoError(t, err)
	d5, err := cusum.NewDetector(models.TF5m, params5m)
	require.NoError(t, err)
	d1, err := cusum.NewDetector(models.TF1m, params1m)
	require.NoError(t, err)

	h := &harness{st: models.NewSymbolState(testSymbol), notifier: &fakeNotifier{}, metrics: newFakeMetrics()}
	h.c, err = NewConfirmator(cfg, ex, cl, d5, d1,
		WithNotifier(h.notifier), WithMetrics(h.metrics), WithClock(BarClock))
	require.NoError(t, err)
	return h
}

func (h *harness) feed(t *testing.T, b models.Candle) *models.ConfirmedSignal {
	t.Helper()
	if b.Timeframe == models.TF5m {
		h.history = append(h.history, b)
		if len(h.history) > 60 {
			h.history = h.history[len(h.history)-60:]
		}
	}
	out, err := h.c.OnBar(context.Background(), h.st, b, h.history)
	require.NoError(t, err)
	return out
}

// priceFn returns a close for a bar closing at ts.
type priceFn func(ts time.Time) float64

func flat(time.Time) float64 { return 100 }

// ramp is flat at 100 until from, then grows by bps per step.
func ramp(from time.Time, step time.Duration, bps float64) priceFn {
	return func(ts time.Time) float64 {
		if !ts.After(from) {
			return 100
		}
		n := float64(ts.Sub(from) / step)
		return 100 * math.Exp(n*bps/1e4)
	}
}

// run feeds minutes (from, to] of merged bars, 5m before 1m on equal stamps.
func (h *harness) run(t *testing.T, from, to time.Time, p5, p1 priceFn, each func(b models.Candle, out *models.ConfirmedSignal)) {
	t.Helper()
	for ts := from.Add(time.Minute); !ts.After(to); ts = ts.Add(time.Minute) {
		if ts.Sub(t0)%(5*time.Minute) == 0 {
			b := mkBar(models.TF5m, ts, p5(ts))
			out := h.feed(t, b)
			if each != nil {
				each(b, out)
			}
		}
		if p1 != nil {
			b := mkBar(models.TF1m, ts, p1(ts))
			out := h.feed(t, b)
			if each != nil {
				each(b, out)
			}
		}
	}
}
