package usecase

import (
	"context"
	"errors"
	"sync"

	"TrendConfirm/internal/domain/models"
	drepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/pkg/logger"
)

// BarCollector pumps closed bars from a live BarStream into a sink and
// reconnects when the stream drops.
type BarCollector struct {
	stream  drepo.BarStream
	sink    BarSink
	metrics drepo.Metrics
	log     *logger.Logger
	wg      sync.WaitGroup
}

func NewBarCollector(stream drepo.BarStream, sink BarSink, metrics drepo.Metrics, log *logger.Logger) *BarCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &BarCollector{stream: stream, sink: sink, metrics: metrics, log: log}
}

func (c *BarCollector) IsConnected() bool { return c.stream.IsConnected() }

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *BarCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		bars, errs := c.stream.Read(ctx)
		c.consume(ctx, bars)
		if ctx.Err() != nil {
			return
		}

		select {
		case err := <-errs:
			c.log.Warn("bar stream dropped", logger.Error(err))
		default:
		}
		c.metrics.RecordError("stream")

		for {
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordError("stream_reconnect")
			c.log.Warn("bar stream reconnect failed", logger.Error(err))
		}
		c.log.Info("bar stream reconnected")
	}
}

func (c *BarCollector) consume(ctx context.Context, bars <-chan models.Candle) {
	for bar := range bars {
		if err := c.sink.Submit(ctx, bar); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn("bar rejected",
				logger.String("symbol", bar.Symbol),
				logger.String("tf", string(bar.Timeframe)),
				logger.Error(err),
			)
		}
	}
}

// Shutdown closes the stream and waits for the pump to exit. ctx passed to
// Start must already be cancelled or the pump may reconnect.
func (c *BarCollector) Shutdown() error {
	err := c.stream.Close()
	c.wg.Wait()
	return err
}
