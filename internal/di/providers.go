package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/domain/repository"
	"TrendConfirm/internal/handler/api"
	mid "TrendConfirm/internal/middleware"
	internalrepo "TrendConfirm/internal/repository"
	"TrendConfirm/internal/service/ratelimit"
	"TrendConfirm/internal/service/stream"
	"TrendConfirm/internal/services/classifier"
	"TrendConfirm/internal/services/cusum"
	"TrendConfirm/internal/services/features"
	"TrendConfirm/internal/services/risk"
	"TrendConfirm/internal/usecase"
	"TrendConfirm/pkg/cache"
	pkgch "TrendConfirm/pkg/clickhouse"
	"TrendConfirm/pkg/config"
	xhttp "TrendConfirm/pkg/http"
	pkgkafka "TrendConfirm/pkg/kafka"
	applogger "TrendConfirm/pkg/logger"
	"TrendConfirm/pkg/metrics"
	"TrendConfirm/pkg/server"
)

// Detectors pairs the primary and confirming CUSUM detectors.
type Detectors struct {
	TF5m *cusum.Detector
	TF1m *cusum.Detector
}

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClassifier loads the model artifact. A missing artifact degrades to
// CUSUM only; a malformed one aborts startup.
func ProvideClassifier(cfg *config.Config, log *applogger.Logger) (*classifier.Classifier, error) {
	cl, err := classifier.NewFromArtifact(cfg.Model.Path,
		classifier.WithTimeout(cfg.Model.Timeout),
		classifier.WithBreaker(classifier.BreakerSettings{
			Failures:         cfg.Model.Breaker.Failures,
			OpenFor:          cfg.Model.Breaker.OpenFor,
			HalfOpenRequests: cfg.Model.Breaker.HalfOpenRequests,
		}),
		classifier.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("model artifact: %w", err)
	}
	return cl, nil
}

func ProvideExtractor(cfg *config.Config) (*features.Extractor, error) {
	return features.NewExtractor(cfg.Features.Window, models.TF5m)
}

func ProvideDetectors(cfg *config.Config) (Detectors, error) {
	d5, err := cusum.NewDetector(models.TF5m, cusum.Params{K: cfg.CUSUM.TF5m.K, H: cfg.CUSUM.TF5m.H})
	if err != nil {
		return Detectors{}, err
	}
	d1, err := cusum.NewDetector(models.TF1m, cusum.Params{K: cfg.CUSUM.TF1m.K, H: cfg.CUSUM.TF1m.H})
	if err != nil {
		return Detectors{}, err
	}
	return Detectors{TF5m: d5, TF1m: d1}, nil
}

// ProvideConfirmator wires the state machine. Replay runs on bar time.
func ProvideConfirmator(
	cfg *config.Config,
	ex *features.Extractor,
	cl *classifier.Classifier,
	dets Detectors,
	notifier repository.DegradedNotifier,
	m repository.Metrics,
	log *applogger.Logger,
) (*usecase.Confirmator, error) {
	clock := usecase.WallClock
	if cfg.Engine.Replay {
		clock = usecase.BarClock
	}
	return usecase.NewConfirmator(
		usecase.ConfirmConfig{
			Window:        cfg.Confirm.Window,
			CombineWeight: cfg.Confirm.CombineWeight,
			Cooldown:      cfg.Confirm.Cooldown,
		},
		ex, cl, dets.TF5m, dets.TF1m,
		usecase.WithNotifier(notifier),
		usecase.WithMetrics(m),
		usecase.WithMeanTracker(cusum.NewMeanTracker(cfg.CUSUM.MeanAlpha)),
		usecase.WithClock(clock),
		usecase.WithConfirmatorLogger(log),
	)
}

func ProvideAdjuster(cfg *config.Config) (*risk.Adjuster, error) {
	r := cfg.Risk
	return risk.NewAdjuster(risk.Params{
		MinActionableConfidence: r.MinActionableConfidence,
		MinSize:                 r.MinSize,
		MaxSize:                 r.MaxSize,
		SizeStep:                r.SizeStep,
		TargetVolatility:        r.TargetVolatility,
		VolatilityFloor:         r.VolatilityFloor,
		StopLossATR:             r.StopLossATR,
		TakeProfitATR:           r.TakeProfitATR,
	})
}

func ProvideLossGuard(cfg *config.Config) *risk.DailyLossGuard {
	return risk.NewDailyLossGuard(cfg.Risk.MaxDailyLoss, cfg.Risk.AccountBalance)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.Producer.AutoCreate),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

func ProvideSignalPublisher(p *pkgkafka.Producer, cfg *config.Config) repository.SignalPublisher {
	return internalrepo.NewKafkaSignalPublisher(p, cfg.Kafka.Topics.Signals)
}

func ProvideDegradedNotifier(p *pkgkafka.Producer, cfg *config.Config) repository.DegradedNotifier {
	return internalrepo.NewKafkaDegradedNotifier(p, cfg.Kafka.Topics.Degraded)
}

// ProvideClickHouseClient connects and creates the candle and intent tables.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	schema := append(internalrepo.CandleSchema(cfg.ClickHouse.CandlesTable),
		internalrepo.IntentSchema(cfg.ClickHouse.IntentsTable)...)
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCandleStore picks the history source for warmup and replay. It
// returns nil when the configured source is not available.
func ProvideCandleStore(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) repository.CandleStore {
	switch cfg.History.Source {
	case "binance":
		return internalrepo.NewBinanceCandleStore(cfg.History.BinanceBaseURL, cfg.History.RequestsPerSecond)
	default:
		if ch == nil {
			return nil
		}
		return internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.CandlesTable, log)
	}
}

// ProvideSignalStore returns the intent audit store, or nil without ClickHouse.
func ProvideSignalStore(cfg *config.Config, ch *pkgch.Client) repository.SignalStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHIntentStore(ch, cfg.ClickHouse.IntentsTable)
}

// ProvideStateStore opens the snapshot backend. It returns nil when
// snapshots are disabled.
func ProvideStateStore(cfg *config.Config) (repository.StateStore, func(), error) {
	if !cfg.Engine.Snapshot {
		return nil, func() {}, nil
	}
	switch cfg.State.Backend {
	case "badger":
		s, err := internalrepo.OpenBadgerStateStore(cfg.State.BadgerPath, cfg.Redis.TTL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		rc, err := cache.NewRedisCache(context.Background(),
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
			cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis state store: %w", err)
		}
		return internalrepo.NewCacheStateStore(rc, cfg.Redis.TTL), func() { _ = rc.Close() }, nil
	}
}

func ProvideEngine(
	cfg *config.Config,
	conf *usecase.Confirmator,
	adj *risk.Adjuster,
	pub repository.SignalPublisher,
	guard *risk.DailyLossGuard,
	candles repository.CandleStore,
	signals repository.SignalStore,
	states repository.StateStore,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Engine {
	opts := []usecase.EngineOption{
		usecase.WithLossGuard(guard),
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(log),
	}
	if candles != nil {
		opts = append(opts, usecase.WithCandleStore(candles))
	}
	if signals != nil {
		opts = append(opts, usecase.WithSignalStore(signals))
	}
	if states != nil {
		opts = append(opts, usecase.WithStateStore(states))
	}
	return usecase.NewEngine(usecase.EngineConfig{
		Symbols:   cfg.Symbols,
		QueueSize: cfg.Engine.QueueSize,
		Warmup:    cfg.Engine.Warmup,
		Snapshot:  cfg.Engine.Snapshot,
	}, conf, adj, pub, opts...)
}

// ProvideBarGuard builds the middleware between the bar input and the engine.
func ProvideBarGuard(cfg *config.Config, engine *usecase.Engine, m repository.Metrics, log *applogger.Logger) *mid.BarGuard {
	return mid.NewBarGuard(engine, m,
		mid.WithMaxBarsPerSecond(cfg.Input.MaxBarsPerSecond),
		mid.WithBufferSize(cfg.Input.BufferSize),
		mid.WithSymbols(cfg.Symbols),
		mid.WithBusyError(usecase.ErrQueueFull),
		mid.WithGuardLogger(log),
	)
}

func ProvideAPILimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.API.RateLimit, cfg.API.Burst)
}

func ProvideStateHandler(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	cl *classifier.Classifier,
	signals repository.SignalStore,
	guard *risk.DailyLossGuard,
) *api.StateEchoHandler {
	opts := []api.HandlerOption{
		api.WithLossGuard(guard),
		api.WithResponseCache(cache.NewMemoryCache(cache.WithMemoryMaxSize(1024)), cfg.API.CacheTTL),
	}
	if signals != nil {
		opts = append(opts, api.WithIntentStore(signals))
	}
	return api.NewStateEchoHandler(log, engine, cl, opts...)
}

func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, h *api.StateEchoHandler, limiter *ratelimit.Limiter) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	if cfg.API.RateLimit > 0 {
		opts = append(opts, xhttp.WithLimiter(limiter))
	}
	return xhttp.NewServer(log, []xhttp.Handler{h}, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. It
// returns nil unless bars come from Kafka.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Input.Source != "kafka" {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerStartOffset(c.StartOffset),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideApp creates the application server with the configured bar input.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	guard *mid.BarGuard,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	pub repository.SignalPublisher,
	m repository.Metrics,
) *server.App {
	opts := []server.Option{server.WithCloser("publisher", pub)}
	switch cfg.Input.Source {
	case "websocket":
		kc := stream.NewKlineClient(cfg.Input.WebSocketURL, cfg.Symbols,
			cfg.Input.ReconnectDelay, cfg.Input.PingInterval, cfg.Input.BufferSize, log)
		opts = append(opts, server.WithCollector(usecase.NewBarCollector(kc, guard, m, log)))
	default:
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
		kh := usecase.NewKafkaBarsHandler(cfg.Kafka.Topics.Bars, guard, m)
		opts = append(opts, server.WithKafkaInput(consumer, kh))
	}
	return server.New(cfg, log, engine, guard, httpServer, opts...)
}

// ProvideReplayNotifier drops degraded events during replay; the replay
// summary and the metrics already count them.
func ProvideReplayNotifier() repository.DegradedNotifier { return nil }

// ProvideReplayPublisher writes intents to out as JSON lines.
func ProvideReplayPublisher(out io.Writer) repository.SignalPublisher {
	return internalrepo.NewJSONLinesPublisher(out)
}

// ProvideReplayEngine builds an engine without warmup or snapshots.
func ProvideReplayEngine(
	cfg *config.Config,
	conf *usecase.Confirmator,
	adj *risk.Adjuster,
	pub repository.SignalPublisher,
	guard *risk.DailyLossGuard,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Engine {
	return usecase.NewEngine(usecase.EngineConfig{Symbols: cfg.Symbols, QueueSize: cfg.Engine.QueueSize},
		conf, adj, pub,
		usecase.WithLossGuard(guard),
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(log),
	)
}

// ProvideReplayer needs a history source; replay without one is a
// configuration error.
func ProvideReplayer(cfg *config.Config, engine *usecase.Engine, candles repository.CandleStore, log *applogger.Logger) (*usecase.Replayer, error) {
	if candles == nil {
		return nil, fmt.Errorf("replay needs history.source binance or clickhouse.enabled")
	}
	return usecase.NewReplayer(engine, usecase.NewCandlesUseCase(candles), cfg.Engine.ReplayParallel, log), nil
}
