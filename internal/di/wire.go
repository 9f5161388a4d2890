//go:build wireinject
// +build wireinject

package di

import (
	"io"

	"TrendConfirm/internal/usecase"
	"TrendConfirm/pkg/config"
	"TrendConfirm/pkg/server"

	"github.com/google/wire"
)

var modelSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideClassifier,
	ProvideExtractor,
	ProvideDetectors,
	ProvideConfirmator,
	ProvideAdjuster,
	ProvideLossGuard,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		modelSet,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Repositories
		ProvideSignalPublisher,
		ProvideDegradedNotifier,
		ProvideCandleStore,
		ProvideSignalStore,
		ProvideStateStore,

		// Use cases and middleware
		ProvideEngine,
		ProvideBarGuard,

		// HTTP
		ProvideAPILimiter,
		ProvideStateHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeReplay wires the engine for an offline run over stored candles,
// writing intents to out.
func InitializeReplay(cfg *config.Config, out io.Writer) (*usecase.Replayer, func(), error) {
	wire.Build(
		modelSet,
		ProvideReplayNotifier,
		ProvideReplayPublisher,
		ProvideClickHouseClient,
		ProvideCandleStore,
		ProvideReplayEngine,
		ProvideReplayer,
	)
	return nil, nil, nil
}
