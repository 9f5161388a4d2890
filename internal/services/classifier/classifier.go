package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/domain/service"
	"TrendConfirm/pkg/logger"
)

const defaultTimeout = 200 * time.Millisecond

// BreakerSettings controls when repeated scorer failures short-circuit Infer.
type BreakerSettings struct {
	Failures         uint32        `yaml:"failures" default:"3"`
	OpenFor          time.Duration `yaml:"open_for" default:"30s"`
	HalfOpenRequests uint32        `yaml:"half_open_requests" default:"1"`
}

// Classifier wraps a ModelHandle and its scorer behind service.TrendClassifier.
// It keeps no per-symbol state and is safe for concurrent use.
type Classifier struct {
	handle      *ModelHandle
	scorer      service.Scorer
	timeout     time.Duration
	breakerCfg  BreakerSettings
	breaker     *gobreaker.CircuitBreaker
	unavailable error
	log         *logger.Logger
}

var _ service.TrendClassifier = (*Classifier)(nil)

type Option func(*Classifier)

func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithBreaker(s BreakerSettings) Option {
	return func(c *Classifier) { c.breakerCfg = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a classifier over a validated handle.
func New(h *ModelHandle, scorer service.Scorer, opts ...Option) *Classifier {
	c := &Classifier{
		handle:     h,
		scorer:     scorer,
		timeout:    defaultTimeout,
		breakerCfg: BreakerSettings{Failures: 3, OpenFor: 30 * time.Second, HalfOpenRequests: 1},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(c.breakerSettings())
	return c
}

// NewUnavailable builds a classifier whose every Infer reports
// ErrModelUnavailable, for when the artifact could not be loaded.
func NewUnavailable(cause error, opts ...Option) *Classifier {
	c := New(&ModelHandle{Version: "unavailable"}, nil, opts...)
	c.unavailable = cause
	return c
}

// NewFromArtifact loads the artifact at path. A malformed artifact is
// returned as an error; an unreadable one yields an unavailable classifier.
func NewFromArtifact(path string, opts ...Option) (*Classifier, error) {
	h, err := LoadHandle(path)
	if err != nil {
		if errors.Is(err, ErrMalformedHandle) {
			return nil, err
		}
		c := NewUnavailable(err, opts...)
		c.log.Warn("model artifact not loaded, running CUSUM only",
			logger.String("path", path), logger.Error(err))
		return c, nil
	}

	c := New(h, nil, opts...)
	switch h.Scorer.Kind {
	case ScorerRemote:
		c.scorer = NewRemoteScorer(h, c.timeout)
	default:
		c.scorer = NewLinearScorer(h.Scorer)
	}
	c.log.Info("model loaded",
		logger.String("version", h.Version),
		logger.String("schema", h.SchemaVersion),
		logger.String("scorer", h.Scorer.Kind),
		logger.Int("features", h.FeatureLength))
	return c, nil
}

func (c *Classifier) breakerSettings() gobreaker.Settings {
	cfg := c.breakerCfg
	if cfg.Failures == 0 {
		cfg.Failures = 3
	}
	return gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("classifier breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
}

func (c *Classifier) Version() string         { return c.handle.Version }
func (c *Classifier) ActThreshold() float64   { return c.handle.ActThreshold }
func (c *Classifier) TrustThreshold() float64 { return c.handle.TrustThreshold }
func (c *Classifier) Handle() ModelHandle     { return *c.handle }
func (c *Classifier) Available() bool         { return c.unavailable == nil }
func (c *Classifier) BreakerState() string    { return c.breaker.State().String() }

type scoreResult struct {
	probs [3]float64
	err   error
}

// Infer scores fv. Any returned error means the model path is unusable for
// this cycle: ErrModelUnavailable, ErrSchemaMismatch, ErrInferenceTimeout or
// ErrUnderConfident.
func (c *Classifier) Infer(ctx context.Context, fv models.FeatureVector) (models.DetectionSignal, error) {
	sig := models.DetectionSignal{
		Symbol:    fv.Symbol,
		Timeframe: models.TF5m,
		Source:    models.SourceModel,
		Timestamp: fv.Timestamp,
	}
	if c.unavailable != nil {
		return sig, fmt.Errorf("%w: %v", models.ErrModelUnavailable, c.unavailable)
	}
	if fv.SchemaVersion != c.handle.SchemaVersion || len(fv.Values) != c.handle.FeatureLength {
		return sig, fmt.Errorf("%w: got %s/%d, want %s/%d", models.ErrSchemaMismatch,
			fv.SchemaVersion, len(fv.Values), c.handle.SchemaVersion, c.handle.FeatureLength)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan scoreResult, 1)
	go func() {
		v, err := c.breaker.Execute(func() (interface{}, error) {
			return c.scorer.Score(ctx, fv.Values)
		})
		var res scoreResult
		res.err = err
		if err == nil {
			res.probs = v.([3]float64)
		}
		done <- res
	}()

	var res scoreResult
	select {
	case <-ctx.Done():
		return sig, fmt.Errorf("%w: no result after %s", models.ErrInferenceTimeout, c.timeout)
	case res = <-done:
	}
	if res.err != nil {
		switch {
		case errors.Is(res.err, gobreaker.ErrOpenState), errors.Is(res.err, gobreaker.ErrTooManyRequests):
			return sig, fmt.Errorf("%w: %v", models.ErrModelUnavailable, res.err)
		case errors.Is(res.err, context.DeadlineExceeded):
			return sig, fmt.Errorf("%w: %v", models.ErrInferenceTimeout, res.err)
		default:
			return sig, fmt.Errorf("%w: %v", models.ErrModelUnavailable, res.err)
		}
	}

	return c.decide(sig, res.probs)
}

func (c *Classifier) decide(sig models.DetectionSignal, p [3]float64) (models.DetectionSignal, error) {
	best := 0
	for i := 1; i < 3; i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	conf := p[best]
	if conf < c.handle.TrustThreshold {
		return sig, fmt.Errorf("%w: %.3f < %.3f", models.ErrUnderConfident, conf, c.handle.TrustThreshold)
	}

	sig.Confidence = conf
	switch best {
	case 1:
		sig.Direction = models.DirectionUp
	case 2:
		sig.Direction = models.DirectionDown
	}
	if sig.Direction != models.DirectionNone && math.Abs(p[1]-p[2]) < c.handle.MinMargin {
		sig.Direction = models.DirectionNone
	}
	return sig, nil
}
