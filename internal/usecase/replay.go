package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"TrendConfirm/pkg/logger"
)

// ReplaySummary reports one replay run.
type ReplaySummary struct {
	From    time.Time              `json:"from"`
	To      time.Time              `json:"to"`
	Took    time.Duration          `json:"took"`
	Symbols map[string]SymbolStats `json:"symbols"`
}

// Replayer drives stored candles through the engine with the bars as clock.
type Replayer struct {
	engine   *Engine
	candles  *CandlesUseCase
	parallel int
	log      *logger.Logger
}

func NewReplayer(engine *Engine, candles *CandlesUseCase, parallel int, log *logger.Logger) *Replayer {
	if parallel <= 0 {
		parallel = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Replayer{engine: engine, candles: candles, parallel: parallel, log: log}
}

// Run replays [from, to] for every symbol, symbols in parallel.
func (r *Replayer) Run(ctx context.Context, symbols []string, from, to time.Time) (*ReplaySummary, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("replay: no symbols")
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error { return r.replaySymbol(gctx, sym, from, to) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &ReplaySummary{From: from, To: to, Took: time.Since(start), Symbols: r.engine.Stats()}
	r.log.Info("replay finished",
		logger.Int("symbols", len(symbols)),
		logger.Duration("took", sum.Took))
	return sum, nil
}

func (r *Replayer) replaySymbol(ctx context.Context, symbol string, from, to time.Time) error {
	bars, err := r.candles.LoadMerged(ctx, GetCandlesParams{Symbol: symbol, From: from, To: to})
	if err != nil {
		return fmt.Errorf("replay %s: %w", symbol, err)
	}
	r.log.Info("replaying", logger.String("symbol", symbol), logger.Int("bars", len(bars)))

	w := r.engine.attach(ctx, symbol)
	for i, bar := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r.engine.process(ctx, w, bar)
	}
	return nil
}

// SortedSymbols returns the summary's symbols in lexical order.
func (s *ReplaySummary) SortedSymbols() []string {
	out := make([]string, 0, len(s.Symbols))
	for sym := range s.Symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
