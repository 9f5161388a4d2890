package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/pkg/logger"

	"golang.org/x/time/rate"
)

// ErrInvalidBar marks a candle rejected by validation.
var ErrInvalidBar = errors.New("invalid bar")

// Proc is the downstream the guard feeds. ErrBusy from Submit makes the
// guard buffer the bar and retry later.
type Proc interface {
	Submit(ctx context.Context, bar models.Candle) error
}

// BarGuard sits between a feed and the engine. It validates bars, drops
// duplicates and stale redeliveries, paces runaway feeds and buffers when
// the engine pushes back.
type BarGuard struct {
	proc    Proc
	busy    error
	metrics domrepo.Metrics
	log     *logger.Logger

	maxRPS  float64
	symbols map[string]struct{}

	mu       sync.Mutex
	lastSeen map[string]time.Time
	limiters map[string]*rate.Limiter
	pending  int

	bufCh   chan models.Candle
	stopCh  chan struct{}
	done    chan struct{}
	started bool
}

type GuardOption func(*BarGuard)

// WithMaxBarsPerSecond paces bars per symbol. Zero disables it.
func WithMaxBarsPerSecond(n int) GuardOption {
	return func(g *BarGuard) { g.maxRPS = float64(n) }
}

func WithBufferSize(n int) GuardOption {
	return func(g *BarGuard) {
		if n > 0 {
			g.bufCh = make(chan models.Candle, n)
		}
	}
}

// WithSymbols restricts the guard to an allow-list.
func WithSymbols(symbols []string) GuardOption {
	return func(g *BarGuard) {
		if len(symbols) == 0 {
			return
		}
		g.symbols = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			g.symbols[s] = struct{}{}
		}
	}
}

// WithBusyError sets the downstream error that means "retry later".
func WithBusyError(err error) GuardOption {
	return func(g *BarGuard) { g.busy = err }
}

func WithGuardLogger(l *logger.Logger) GuardOption {
	return func(g *BarGuard) { g.log = l }
}

func NewBarGuard(proc Proc, metrics domrepo.Metrics, opts ...GuardOption) *BarGuard {
	g := &BarGuard{
		proc:     proc,
		metrics:  metrics,
		log:      logger.Nop(),
		maxRPS:   20,
		lastSeen: make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		bufCh:    make(chan models.Candle, 1024),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start launches the buffer flusher.
func (g *BarGuard) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	go g.flush(ctx)
}

// Stop halts the flusher. Buffered bars are dropped.
func (g *BarGuard) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	g.mu.Unlock()
	close(g.stopCh)
	<-g.done
}

// Buffered reports how many bars wait for the engine, including the one
// the flusher is retrying.
func (g *BarGuard) Buffered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Submit validates and forwards one closed bar. Dropped duplicates return
// nil; invalid bars return ErrInvalidBar. A feed faster than the per-symbol
// cap is slowed down, never dropped: Submit waits for the limiter and only
// fails when ctx ends first, so the caller can redeliver.
func (g *BarGuard) Submit(ctx context.Context, bar models.Candle) error {
	start := time.Now()
	if err := ValidateBar(bar); err != nil {
		g.metrics.RecordDropped(bar.Symbol, "invalid")
		return err
	}
	if g.symbols != nil {
		if _, ok := g.symbols[bar.Symbol]; !ok {
			g.metrics.RecordDropped(bar.Symbol, "unknown_symbol")
			return nil
		}
	}

	g.mu.Lock()
	lim := g.limiter(bar.Symbol)
	g.mu.Unlock()
	if !lim.Allow() {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("bar guard throttled %s: %w", bar.Symbol, err)
		}
		g.metrics.RecordLatency("guard_throttle_seconds", time.Since(start).Seconds())
	}

	key := bar.Symbol + "|" + string(bar.Timeframe)
	g.mu.Lock()
	last, seen := g.lastSeen[key]
	if seen && !bar.Timestamp.After(last) {
		g.mu.Unlock()
		g.metrics.RecordDropped(bar.Symbol, "duplicate")
		return nil
	}
	g.lastSeen[key] = bar.Timestamp
	// keep FIFO order while anything is buffered or being retried
	queued := g.pending > 0
	if queued {
		g.pending++
	}
	g.mu.Unlock()

	// a rejected bar must stay redeliverable
	forget := func() {
		g.mu.Lock()
		if g.lastSeen[key].Equal(bar.Timestamp) {
			if seen {
				g.lastSeen[key] = last
			} else {
				delete(g.lastSeen, key)
			}
		}
		g.mu.Unlock()
	}

	if queued {
		if err := g.enqueue(bar); err != nil {
			forget()
			return err
		}
		return nil
	}

	err := g.proc.Submit(ctx, bar)
	switch {
	case err == nil:
		g.metrics.RecordLatency("guard_submit_seconds", time.Since(start).Seconds())
		return nil
	case g.busy != nil && errors.Is(err, g.busy):
		g.mu.Lock()
		g.pending++
		g.mu.Unlock()
		if err := g.enqueue(bar); err != nil {
			forget()
			return err
		}
		return nil
	default:
		forget()
		g.metrics.RecordError("guard_downstream")
		return fmt.Errorf("bar guard downstream: %w", err)
	}
}

// enqueue hands a bar already counted in pending to the flusher.
func (g *BarGuard) enqueue(bar models.Candle) error {
	select {
	case g.bufCh <- bar:
		return nil
	default:
		g.release()
		g.metrics.RecordDropped(bar.Symbol, "buffer_full")
		return fmt.Errorf("bar guard buffer full: %s", bar.Symbol)
	}
}

func (g *BarGuard) release() {
	g.mu.Lock()
	g.pending--
	g.mu.Unlock()
}

// limiter must be called with mu held.
func (g *BarGuard) limiter(symbol string) *rate.Limiter {
	l, ok := g.limiters[symbol]
	if !ok {
		lim := rate.Inf
		burst := 1
		if g.maxRPS > 0 {
			lim = rate.Limit(g.maxRPS)
			burst = int(math.Ceil(g.maxRPS))
		}
		l = rate.NewLimiter(lim, burst)
		g.limiters[symbol] = l
	}
	return l
}

func (g *BarGuard) flush(ctx context.Context) {
	defer close(g.done)
	const minBackoff = 50 * time.Millisecond
	backoff := minBackoff
	for {
		select {
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		case bar := <-g.bufCh:
			for {
				err := g.proc.Submit(ctx, bar)
				if err == nil {
					g.release()
					backoff = minBackoff
					break
				}
				if g.busy == nil || !errors.Is(err, g.busy) {
					g.release()
					g.metrics.RecordError("guard_flush")
					g.log.Error("buffered bar lost", logger.String("symbol", bar.Symbol), logger.Error(err))
					break
				}
				select {
				case <-g.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 2*time.Second {
					backoff *= 2
				}
			}
		}
	}
}

// ValidateBar checks the OHLCV invariants of a closed bar.
func ValidateBar(b models.Candle) error {
	switch {
	case b.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidBar)
	case !domrepo.IsValidTimeframe(b.Timeframe):
		return fmt.Errorf("%w: timeframe %q", ErrInvalidBar, b.Timeframe)
	case b.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidBar)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: price %v", ErrInvalidBar, v)
		}
	}
	if math.IsNaN(b.Volume) || b.Volume < 0 {
		return fmt.Errorf("%w: volume %v", ErrInvalidBar, b.Volume)
	}
	if b.High < b.Low || b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("%w: high/low do not bound open/close", ErrInvalidBar)
	}
	return nil
}
