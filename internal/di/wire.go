//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/wekabeka1996/AuroRA-sub000/pkg/config"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideAuditSink,
		ProvideCache,
		ProvideDecisionCache,
		ProvideKafkaProducer,
		ProvideDecisionPublisher,
		ProvideSnapshotStore,
		ProvideSnapshotter,

		// Governance
		ProvideLedger,
		ProvideTesterFactory,
		ProvidePolicyManager,
		ProvideGovernanceService,

		// Decision streams
		ProvideFeedRouter,
		ProvideKafkaConsumer,

		// HTTP surface and application
		ProvideAPIHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
