package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/internal/services/features"
	"TrendConfirm/internal/services/risk"
	"TrendConfirm/pkg/logger"
)

var (
	ErrQueueFull     = errors.New("symbol queue full")
	ErrEngineStopped = errors.New("engine stopped")
)

const (
	atrPeriod      = 14
	regimeLookback = 20
)

// EngineConfig sizes the per-symbol workers.
type EngineConfig struct {
	Symbols   []string
	QueueSize int
	Warmup    bool
	Snapshot  bool
}

// SymbolStats counts what one symbol's worker has done.
type SymbolStats struct {
	Bars       int64 `json:"bars"`
	Rejected   int64 `json:"rejected"`
	Confirmed  int64 `json:"confirmed"`
	Published  int64 `json:"published"`
	ZeroSized  int64 `json:"zero_sized"`
	PublishErr int64 `json:"publish_errors"`
}

type symbolWorker struct {
	symbol  string
	in      chan models.Candle
	mu      sync.RWMutex
	st      *models.SymbolState
	history []models.Candle
	stats   SymbolStats
}

// Engine owns one worker goroutine per symbol. Each worker applies bars to
// its symbol strictly in arrival order; symbols run in parallel.
type Engine struct {
	cfg       EngineConfig
	conf      *Confirmator
	adjuster  *risk.Adjuster
	lossGuard *risk.DailyLossGuard
	pub       domrepo.SignalPublisher
	audit     domrepo.SignalStore
	states    domrepo.StateStore
	candles   domrepo.CandleStore
	metrics   domrepo.Metrics
	log       *logger.Logger

	mu      sync.RWMutex
	workers map[string]*symbolWorker
	runCtx  context.Context
	stopped bool
	wg      sync.WaitGroup
}

type EngineOption func(*Engine)

func WithSignalStore(s domrepo.SignalStore) EngineOption {
	return func(e *Engine) { e.audit = s }
}

func WithStateStore(s domrepo.StateStore) EngineOption {
	return func(e *Engine) { e.states = s }
}

func WithCandleStore(s domrepo.CandleStore) EngineOption {
	return func(e *Engine) { e.candles = s }
}

func WithLossGuard(g *risk.DailyLossGuard) EngineOption {
	return func(e *Engine) { e.lossGuard = g }
}

func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(cfg EngineConfig, conf *Confirmator, adj *risk.Adjuster, pub domrepo.SignalPublisher, opts ...EngineOption) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	e := &Engine{
		cfg:      cfg,
		conf:     conf,
		adjuster: adj,
		pub:      pub,
		metrics:  nopMetrics{},
		log:      logger.Nop(),
		workers:  make(map[string]*symbolWorker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches a worker per configured symbol. Symbols first seen later
// get a worker on demand. Each worker restores and warms up on its own
// goroutine before its first bar, so neither call blocks on storage.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	for _, sym := range e.cfg.Symbols {
		if _, err := e.worker(sym); err != nil {
			return err
		}
	}
	e.log.Info("engine started", logger.Strings("symbols", e.cfg.Symbols), logger.Int("queue", e.cfg.QueueSize))
	return nil
}

// Stop closes every queue and waits for the workers to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, w := range e.workers {
		close(w.in)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// Submit queues a closed bar for its symbol without blocking.
func (e *Engine) Submit(ctx context.Context, bar models.Candle) error {
	w, err := e.worker(bar.Symbol)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrEngineStopped
	}
	select {
	case w.in <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.metrics.RecordDropped(bar.Symbol, "queue_full")
		return fmt.Errorf("%w: %s", ErrQueueFull, bar.Symbol)
	}
}

func (e *Engine) worker(symbol string) (*symbolWorker, error) {
	e.mu.RLock()
	w, ok := e.workers[symbol]
	ctx, stopped := e.runCtx, e.stopped
	e.mu.RUnlock()
	if ok {
		return w, nil
	}
	if stopped {
		return nil, ErrEngineStopped
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w = e.newWorker(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.workers[symbol]; ok {
		return existing, nil
	}
	if e.stopped {
		return nil, ErrEngineStopped
	}
	e.workers[symbol] = w
	e.wg.Add(1)
	go e.loop(ctx, w)
	return w, nil
}

func (e *Engine) newWorker(symbol string) *symbolWorker {
	return &symbolWorker{
		symbol: symbol,
		in:     make(chan models.Candle, e.cfg.QueueSize),
		st:     models.NewSymbolState(symbol),
	}
}

// restore loads the snapshot and the warmup window for a fresh worker. It
// runs before the worker's first bar.
func (e *Engine) restore(ctx context.Context, w *symbolWorker) {
	var (
		st   *models.SymbolState
		hist []models.Candle
	)
	if e.states != nil && e.cfg.Snapshot {
		loaded, err := e.states.Load(ctx, w.symbol)
		switch {
		case err != nil:
			e.log.Warn("state restore failed", logger.String("symbol", w.symbol), logger.Error(err))
		case loaded != nil:
			normalizeState(loaded, w.symbol)
			st = loaded
			e.log.Info("state restored",
				logger.String("symbol", w.symbol),
				logger.String("status", string(st.Confirmation.Status)),
				logger.Time("last_event", st.LastEvent))
		}
	}
	if e.candles != nil && e.cfg.Warmup {
		loaded, err := e.candles.GetLatestNCandles(ctx, w.symbol, e.conf.WindowSize(), models.TF5m)
		if err != nil {
			e.log.Warn("warmup failed", logger.String("symbol", w.symbol), logger.Error(err))
		} else if len(loaded) > 0 {
			hist = loaded
			e.log.Info("warmup loaded", logger.String("symbol", w.symbol), logger.Int("bars", len(hist)))
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if st != nil {
		w.st = st
	}
	if len(hist) > 0 {
		w.history = hist
		if st == nil {
			w.st.LastBar[models.TF5m] = hist[len(hist)-1]
		}
	}
}

func normalizeState(st *models.SymbolState, symbol string) {
	st.Symbol = symbol
	if st.CUSUM == nil {
		st.CUSUM = make(map[models.Timeframe]models.CUSUMState, 2)
	}
	if st.LastBar == nil {
		st.LastBar = make(map[models.Timeframe]models.Candle, 2)
	}
	if st.Confirmation.Status == "" {
		st.Confirmation.Status = models.StatusIdle
	}
	if st.Confirmation.Status == models.StatusPending && st.Confirmation.Pending == nil {
		st.Confirmation.Reset()
	}
}

func (e *Engine) loop(ctx context.Context, w *symbolWorker) {
	defer e.wg.Done()
	e.restore(ctx, w)
	for bar := range w.in {
		e.process(ctx, w, bar)
	}
}

// process applies one bar to a worker. Only the worker's goroutine, or the
// replayer that owns the worker, calls it.
func (e *Engine) process(ctx context.Context, w *symbolWorker, bar models.Candle) {
	history := w.history
	if bar.Timeframe == models.TF5m {
		history = appendWindow(w.history, bar, e.conf.WindowSize())
	}

	w.mu.Lock()
	out, err := e.conf.OnBar(ctx, w.st, bar, history)
	if err != nil {
		w.stats.Rejected++
		w.mu.Unlock()
		e.metrics.RecordDropped(bar.Symbol, "out_of_order")
		e.log.Debug("bar rejected", logger.String("symbol", bar.Symbol), logger.Error(err))
		return
	}
	w.history = history
	w.stats.Bars++
	snapshot := cloneState(w.st)
	w.mu.Unlock()

	if out != nil {
		e.emit(ctx, w, *out)
	}
	if e.states != nil && e.cfg.Snapshot {
		if err := e.states.Save(ctx, snapshot); err != nil {
			e.metrics.RecordError("state_save")
			e.log.Warn("state snapshot failed", logger.String("symbol", bar.Symbol), logger.Error(err))
		}
	}
}

func (e *Engine) emit(ctx context.Context, w *symbolWorker, sig models.ConfirmedSignal) {
	w.mu.RLock()
	history := w.history
	price := w.st.LastBar[models.TF1m].Close
	w.mu.RUnlock()

	intent := e.size(sig, history, price)

	w.mu.Lock()
	w.stats.Confirmed++
	if intent.Size == 0 {
		w.stats.ZeroSized++
	}
	w.mu.Unlock()

	if e.audit != nil {
		if err := e.audit.SaveIntent(ctx, intent); err != nil {
			e.metrics.RecordError("intent_audit")
			e.log.Warn("intent audit failed", logger.String("id", sig.ID), logger.Error(err))
		}
	}
	if intent.Size == 0 {
		e.metrics.RecordDropped(sig.Symbol, "zero_size")
		e.log.Info("confirmed signal not sized",
			logger.String("symbol", sig.Symbol),
			logger.String("id", sig.ID),
			logger.Float64("confidence", sig.Confidence),
			logger.Float64("volatility", intent.Volatility))
		return
	}

	start := time.Now()
	err := e.pub.PublishIntent(ctx, intent)
	e.metrics.RecordLatency("publish_seconds", time.Since(start).Seconds())
	w.mu.Lock()
	if err != nil {
		w.stats.PublishErr++
	} else {
		w.stats.Published++
	}
	w.mu.Unlock()
	if err != nil {
		e.metrics.RecordError("intent_publish")
		e.log.Error("publish intent", logger.String("id", sig.ID), logger.Error(err))
		return
	}
	e.metrics.RecordIntent(sig.Symbol, intent.Size)
	e.log.Info("order intent published",
		logger.String("symbol", sig.Symbol),
		logger.String("id", sig.ID),
		logger.String("direction", sig.Direction.String()),
		logger.Float64("size", intent.Size),
		logger.Float64("stop_loss", intent.StopLoss),
		logger.Float64("take_profit", intent.TakeProfit))
}

// size turns a confirmed signal into an OrderIntent using the 5m window for
// volatility, ATR and regime.
func (e *Engine) size(sig models.ConfirmedSignal, history []models.Candle, price float64) models.OrderIntent {
	returns := features.ComputeLogReturns(history)
	vol := features.RealizedVolatility(returns, len(returns))
	regime := 1.0
	if short := features.RealizedVolatility(returns, regimeLookback); short > 0 && vol > 0 {
		regime = short / vol
	}
	atr := features.ATR(history, atrPeriod)
	if price <= 0 && len(history) > 0 {
		price = history[len(history)-1].Close
	}

	intent := models.OrderIntent{
		Signal:     sig,
		Size:       e.adjuster.Size(sig.Confidence, vol),
		Volatility: vol,
		Price:      price,
	}
	if len(returns) < 2 {
		intent.Size = 0
	}
	if e.lossGuard.Breached(sig.Timestamp) {
		e.log.Warn("daily loss limit reached, size forced to zero", logger.String("symbol", sig.Symbol))
		intent.Size = 0
	}
	intent.StopLoss, intent.TakeProfit = e.adjuster.Stops(price, sig.Direction, atr, regime)
	return intent
}

// State returns a copy of a symbol's pipeline state.
func (e *Engine) State(symbol string) (models.SymbolState, bool) {
	e.mu.RLock()
	w, ok := e.workers[symbol]
	e.mu.RUnlock()
	if !ok {
		return models.SymbolState{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *cloneState(w.st), true
}

// Stats returns per-symbol counters.
func (e *Engine) Stats() map[string]SymbolStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]SymbolStats, len(e.workers))
	for sym, w := range e.workers {
		w.mu.RLock()
		out[sym] = w.stats
		w.mu.RUnlock()
	}
	return out
}

func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for sym := range e.workers {
		out = append(out, sym)
	}
	return out
}

func appendWindow(history []models.Candle, bar models.Candle, size int) []models.Candle {
	n := len(history) + 1
	if n > size {
		n = size
	}
	out := make([]models.Candle, 0, n)
	if skip := len(history) + 1 - n; skip < len(history) {
		out = append(out, history[skip:]...)
	}
	return append(out, bar)
}

func cloneState(st *models.SymbolState) *models.SymbolState {
	cp := *st
	if st.Confirmation.Pending != nil {
		p := *st.Confirmation.Pending
		cp.Confirmation.Pending = &p
	}
	cp.CUSUM = make(map[models.Timeframe]models.CUSUMState, len(st.CUSUM))
	for k, v := range st.CUSUM {
		cp.CUSUM[k] = v
	}
	cp.LastBar = make(map[models.Timeframe]models.Candle, len(st.LastBar))
	for k, v := range st.LastBar {
		cp.LastBar[k] = v
	}
	return &cp
}

// attach registers a worker that is driven synchronously by the caller
// instead of a goroutine. Used by replay.
func (e *Engine) attach(ctx context.Context, symbol string) *symbolWorker {
	w := e.newWorker(symbol)
	e.restore(ctx, w)
	e.mu.Lock()
	e.workers[symbol] = w
	e.mu.Unlock()
	return w
}
