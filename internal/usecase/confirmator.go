package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/internal/domain/service"
	"TrendConfirm/internal/services/cusum"
	"TrendConfirm/internal/services/features"
	"TrendConfirm/pkg/logger"
)

// ConfirmConfig tunes the two-level confirmation.
type ConfirmConfig struct {
	Window        time.Duration
	CombineWeight float64
	Cooldown      time.Duration
}

func (c ConfirmConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("confirm: window must be > 0")
	}
	if math.IsNaN(c.CombineWeight) || c.CombineWeight < 0.5 || c.CombineWeight > 1 {
		return fmt.Errorf("confirm: combine_weight must be in [0.5,1], got %v", c.CombineWeight)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("confirm: cooldown must be >= 0")
	}
	return nil
}

// NowFunc supplies "now" for staleness checks given the bar being handled.
type NowFunc func(bar models.Candle) time.Time

// WallClock is used live.
func WallClock(models.Candle) time.Time { return time.Now() }

// BarClock is used in replay, where the bar itself is the clock.
func BarClock(bar models.Candle) time.Time { return bar.Timestamp }

// Confirmator runs the per-symbol Idle -> Pending -> {Confirmed, Expired}
// machine. It holds no symbol state: every call receives the symbol's
// SymbolState, which also serves as that symbol's CUSUM arena.
type Confirmator struct {
	cfg        ConfirmConfig
	extractor  *features.Extractor
	classifier service.TrendClassifier
	primary    *cusum.Detector
	secondary  *cusum.Detector
	means      *cusum.MeanTracker
	notifier   domrepo.DegradedNotifier
	metrics    domrepo.Metrics
	now        NowFunc
	log        *logger.Logger
}

type ConfirmatorOption func(*Confirmator)

func WithNotifier(n domrepo.DegradedNotifier) ConfirmatorOption {
	return func(c *Confirmator) { c.notifier = n }
}

func WithMetrics(m domrepo.Metrics) ConfirmatorOption {
	return func(c *Confirmator) { c.metrics = m }
}

func WithMeanTracker(m *cusum.MeanTracker) ConfirmatorOption {
	return func(c *Confirmator) { c.means = m }
}

func WithClock(now NowFunc) ConfirmatorOption {
	return func(c *Confirmator) { c.now = now }
}

func WithConfirmatorLogger(l *logger.Logger) ConfirmatorOption {
	return func(c *Confirmator) { c.log = l }
}

func NewConfirmator(cfg ConfirmConfig, ex *features.Extractor, cl service.TrendClassifier,
	det5m, det1m *cusum.Detector, opts ...ConfirmatorOption) (*Confirmator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ex == nil || cl == nil || det5m == nil || det1m == nil {
		return nil, fmt.Errorf("confirmator: extractor, classifier and detectors are required")
	}
	c := &Confirmator{
		cfg:        cfg,
		extractor:  ex,
		classifier: cl,
		primary:    det5m,
		secondary:  det1m,
		metrics:    nopMetrics{},
		now:        WallClock,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Confirmator) WindowSize() int { return c.extractor.Window() }

// OnBar advances st with one closed bar. history is the symbol's 5m window
// ending at bar and is only read for 5m bars. A non-nil signal is returned
// when the bar confirms the pending primary. The only error is
// models.ErrOutOfOrder; every other condition degrades or resets locally.
func (c *Confirmator) OnBar(ctx context.Context, st *models.SymbolState, bar models.Candle, history []models.Candle) (*models.ConfirmedSignal, error) {
	if bar.Timestamp.Before(st.LastEvent) {
		return nil, fmt.Errorf("%w: %s %s at %s before %s", models.ErrOutOfOrder,
			bar.Symbol, bar.Timeframe, bar.Timestamp.Format(time.RFC3339), st.LastEvent.Format(time.RFC3339))
	}
	if last, ok := st.LastBar[bar.Timeframe]; ok && !bar.Timestamp.After(last.Timestamp) {
		return nil, fmt.Errorf("%w: duplicate %s bar at %s", models.ErrOutOfOrder,
			bar.Timeframe, bar.Timestamp.Format(time.RFC3339))
	}
	c.metrics.RecordBar(bar.Symbol, bar.Timeframe)

	c.expire(st, bar.Timestamp)

	var (
		out *models.ConfirmedSignal
		err error
	)
	switch bar.Timeframe {
	case models.TF5m:
		det := c.stepCUSUM(st, c.primary, bar)
		c.onPrimaryBar(ctx, st, bar, history, det)
	case models.TF1m:
		det := c.stepCUSUM(st, c.secondary, bar)
		out = c.onConfirmationBar(st, bar, det)
	default:
		err = fmt.Errorf("unsupported timeframe %q", bar.Timeframe)
	}

	st.LastBar[bar.Timeframe] = bar
	st.LastEvent = bar.Timestamp
	return out, err
}

// expire closes a Pending entry whose deadline has been reached.
func (c *Confirmator) expire(st *models.SymbolState, ts time.Time) {
	cs := &st.Confirmation
	if cs.Status != models.StatusPending || ts.Before(cs.Deadline) {
		return
	}
	c.log.Debug("confirmation expired",
		logger.String("symbol", st.Symbol),
		logger.String("direction", cs.Pending.Direction.String()),
		logger.Time("deadline", cs.Deadline),
		logger.Error(models.ErrConfirmationExpired))
	c.metrics.RecordTransition(st.Symbol, models.StatusExpired)
	cs.Reset()
}

func (c *Confirmator) stepCUSUM(st *models.SymbolState, det *cusum.Detector, bar models.Candle) models.DetectionSignal {
	tf := det.Timeframe()
	prev, ok := st.LastBar[tf]
	if !ok {
		return models.DetectionSignal{Symbol: bar.Symbol, Timeframe: tf, Source: models.SourceCUSUM, Timestamp: bar.Timestamp}
	}
	state, ok := st.CUSUM[tf]
	if !ok {
		state = det.NewState()
	}
	x := cusum.Observation(prev, bar)
	sig := det.Step(st.Symbol, &state, x, bar.Timestamp)
	if !sig.Fired() {
		c.means.Observe(&state, x)
	} else {
		c.metrics.RecordDetection(st.Symbol, models.SourceCUSUM, sig.Direction)
	}
	st.CUSUM[tf] = state
	return sig
}

func (c *Confirmator) onPrimaryBar(ctx context.Context, st *models.SymbolState, bar models.Candle, history []models.Candle, fallback models.DetectionSignal) {
	sig := c.detectPrimary(ctx, bar, history, fallback)
	if !sig.Fired() {
		return
	}

	cs := &st.Confirmation
	switch {
	case cs.Status == models.StatusPending:
		c.drop(st.Symbol, sig, "pending")
		return
	case bar.Timestamp.Before(cs.CooldownUntil):
		c.drop(st.Symbol, sig, "cooldown")
		return
	}

	pending := sig
	cs.Status = models.StatusPending
	cs.Pending = &pending
	cs.OpenedAt = bar.Timestamp
	cs.Deadline = bar.Timestamp.Add(c.cfg.Window)
	c.metrics.RecordTransition(st.Symbol, models.StatusPending)
	c.log.Info("primary signal pending confirmation",
		logger.String("symbol", st.Symbol),
		logger.String("direction", sig.Direction.String()),
		logger.String("source", string(sig.Source)),
		logger.Float64("confidence", sig.Confidence),
		logger.Time("deadline", cs.Deadline))
}

// detectPrimary prefers the classifier and falls back to the 5m CUSUM result
// when the classifier is unusable or below its act threshold.
func (c *Confirmator) detectPrimary(ctx context.Context, bar models.Candle, history []models.Candle, fallback models.DetectionSignal) models.DetectionSignal {
	start := time.Now()
	fv, err := c.extractor.Extract(history, c.now(bar))
	if err == nil {
		var sig models.DetectionSignal
		sig, err = c.classifier.Infer(ctx, fv)
		c.metrics.RecordLatency("inference_seconds", time.Since(start).Seconds())
		if err == nil {
			if sig.Confidence >= c.classifier.ActThreshold() {
				if sig.Fired() {
					c.metrics.RecordDetection(bar.Symbol, models.SourceModel, sig.Direction)
				}
				return sig
			}
			err = fmt.Errorf("confidence %.3f below act threshold %.3f", sig.Confidence, c.classifier.ActThreshold())
		}
	}
	c.degraded(ctx, bar, err)
	return fallback
}

func (c *Confirmator) degraded(ctx context.Context, bar models.Candle, cause error) {
	reason := DegradedReason(cause)
	c.metrics.RecordDegraded(bar.Symbol, reason)
	c.log.Warn("classifier bypassed, using CUSUM",
		logger.String("symbol", bar.Symbol),
		logger.String("reason", reason),
		logger.Time("bar", bar.Timestamp),
		logger.Error(cause))
	if c.notifier == nil {
		return
	}
	ev := models.DegradedEvent{
		Symbol:       bar.Symbol,
		Timestamp:    bar.Timestamp,
		Reason:       reason,
		ModelVersion: c.classifier.Version(),
	}
	if err := c.notifier.NotifyDegraded(ctx, ev); err != nil {
		c.metrics.RecordError("degraded_notify")
		c.log.Error("notify degraded", logger.String("symbol", bar.Symbol), logger.Error(err))
	}
}

func (c *Confirmator) drop(symbol string, sig models.DetectionSignal, reason string) {
	c.metrics.RecordDropped(symbol, reason)
	c.log.Debug("primary signal dropped",
		logger.String("symbol", symbol),
		logger.String("reason", reason),
		logger.String("direction", sig.Direction.String()),
		logger.String("source", string(sig.Source)))
}

func (c *Confirmator) onConfirmationBar(st *models.SymbolState, bar models.Candle, det models.DetectionSignal) *models.ConfirmedSignal {
	cs := &st.Confirmation
	if cs.Status != models.StatusPending || !det.Fired() {
		return nil
	}
	primary := *cs.Pending

	if det.Direction != primary.Direction {
		c.log.Info("confirmation contradicted",
			logger.String("symbol", st.Symbol),
			logger.String("pending", primary.Direction.String()),
			logger.String("observed", det.Direction.String()))
		c.metrics.RecordTransition(st.Symbol, models.StatusExpired)
		cs.Reset()
		return nil
	}

	out := &models.ConfirmedSignal{
		ID:           models.NewSignalID(),
		Symbol:       st.Symbol,
		Direction:    primary.Direction,
		Confidence:   Combine(primary.Confidence, det.Confidence, c.cfg.CombineWeight),
		Timestamp:    bar.Timestamp,
		Primary:      primary,
		Confirmation: det,
		Sources:      []models.Source{primary.Source, det.Source},
	}
	c.metrics.RecordTransition(st.Symbol, models.StatusConfirmed)
	c.log.Info("signal confirmed",
		logger.String("symbol", st.Symbol),
		logger.String("id", out.ID),
		logger.String("direction", out.Direction.String()),
		logger.Float64("confidence", out.Confidence),
		logger.Duration("lag", bar.Timestamp.Sub(cs.OpenedAt)))
	if c.cfg.Cooldown > 0 {
		cs.CooldownUntil = bar.Timestamp.Add(c.cfg.Cooldown)
	}
	cs.Reset()
	return out
}

// Combine weights the stronger of two confidences by w and clips to [0,1].
func Combine(a, b, w float64) float64 {
	hi, lo := math.Max(a, b), math.Min(a, b)
	v := w*hi + (1-w)*lo
	return math.Max(0, math.Min(1, v))
}

// DegradedReason maps a bypass cause onto a short metric label.
func DegradedReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, models.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, models.ErrStaleData):
		return "stale_data"
	case errors.Is(err, models.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, models.ErrInferenceTimeout):
		return "inference_timeout"
	case errors.Is(err, models.ErrUnderConfident):
		return "under_confident"
	case errors.Is(err, models.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "below_act_threshold"
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordBar(string, models.Timeframe)                      {}
func (nopMetrics) RecordDetection(string, models.Source, models.Direction) {}
func (nopMetrics) RecordTransition(string, models.ConfirmationStatus)      {}
func (nopMetrics) RecordDegraded(string, string)                           {}
func (nopMetrics) RecordDropped(string, string)                            {}
func (nopMetrics) RecordIntent(string, float64)                            {}
func (nopMetrics) RecordError(string)                                      {}
func (nopMetrics) RecordLatency(string, float64)                           {}
