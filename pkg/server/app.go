package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	mid "TrendConfirm/internal/middleware"
	"TrendConfirm/internal/usecase"
	"TrendConfirm/pkg/config"
	xhttp "TrendConfirm/pkg/http"
	pkgkafka "TrendConfirm/pkg/kafka"
	applogger "TrendConfirm/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	engine     *usecase.Engine
	guard      *mid.BarGuard
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	collector  *usecase.BarCollector
	httpServer *xhttp.Server
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Option attaches an optional component to App.
type Option func(*App)

// WithKafkaInput consumes closed bars from Kafka through kh.
func WithKafkaInput(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = consumer
		a.kh = kh
	}
}

// WithCollector reads closed bars from the exchange websocket.
func WithCollector(c *usecase.BarCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithCloser registers a resource closed after everything else stopped.
// Closers run in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	guard *mid.BarGuard,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	a := &App{cfg: cfg, log: log, engine: engine, guard: guard, httpServer: httpServer}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = applogger.Nop()
	}
	return a
}

// Run starts the application and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.consumer == nil && a.collector == nil {
		return errors.New("app: no bar input configured")
	}

	if err := a.engine.Start(ctx); err != nil {
		a.closeAll()
		return fmt.Errorf("engine start: %w", err)
	}
	a.guard.Start(ctx)

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("kafka consumer start: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Symbols))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("http server start: %w", err)
		}
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

// shutdown stops inputs first so the engine drains what was accepted.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	a.guard.Stop()
	a.engine.Stop()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.closeAll()
	a.log.Info("shutdown complete")
}

func (a *App) closeAll() {
	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}
	a.closers = nil
}
