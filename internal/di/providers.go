package di

import (
	"context"
	"fmt"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/calibrate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/gate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/governance"
	"github.com/wekabeka1996/AuroRA-sub000/internal/handler/api"
	"github.com/wekabeka1996/AuroRA-sub000/internal/ledger"
	"github.com/wekabeka1996/AuroRA-sub000/internal/orchestrator"
	"github.com/wekabeka1996/AuroRA-sub000/internal/policy"
	"github.com/wekabeka1996/AuroRA-sub000/internal/quantile"
	internalrepo "github.com/wekabeka1996/AuroRA-sub000/internal/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/service/modelfeed"
	"github.com/wekabeka1996/AuroRA-sub000/internal/uncertainty"
	"github.com/wekabeka1996/AuroRA-sub000/internal/usecase"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/cache"
	pkgch "github.com/wekabeka1996/AuroRA-sub000/pkg/clickhouse"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/config"
	xhttp "github.com/wekabeka1996/AuroRA-sub000/pkg/http"
	pkgkafka "github.com/wekabeka1996/AuroRA-sub000/pkg/kafka"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/metrics"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/server"
)

// ProvideLogger creates the process logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// audit schema. Returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.AuditSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideAuditSink creates the durable audit sink, or a no-op sink when
// ClickHouse is disabled.
func ProvideAuditSink(cfg *config.Config, client *pkgch.Client, log *logger.Logger) repository.AuditSink {
	if client == nil {
		return repository.NopAudit{}
	}
	return internalrepo.NewClickHouseAudit(internalrepo.ClickHouseAuditConfig{
		FlushInterval: cfg.ClickHouse.FlushEvery,
		BatchSize:     cfg.ClickHouse.BatchSize,
	}, client, log)
}

// ProvideCache builds the latest-decision cache service: a layered
// memory-over-redis cache when Redis is enabled, plain in-process otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	remote, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(remote), nil
}

// ProvideDecisionCache wraps the cache service as the decision read model.
func ProvideDecisionCache(svc cache.Service) repository.DecisionCache {
	return internalrepo.NewCachedDecisions(svc)
}

// ProvideKafkaProducer creates the producer for the decisions topic, or nil
// when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDecisionPublisher fans decisions out to Kafka, or discards them
// when no broker is configured.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.DecisionPublisher {
	if producer == nil {
		return repository.NopPublisher{}
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.DecisionTopic)
}

// ProvideSnapshotStore creates the file-backed snapshot store.
func ProvideSnapshotStore(cfg *config.Config) (*internalrepo.FileSnapshotStore, error) {
	store, err := internalrepo.NewFileSnapshotStore(cfg.Snapshot.Dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return store, nil
}

// ProvideSnapshotter creates the write-behind snapshot loop.
func ProvideSnapshotter(cfg *config.Config, store *internalrepo.FileSnapshotStore, m repository.Metrics, log *logger.Logger) *usecase.Snapshotter {
	return usecase.NewSnapshotter(usecase.SnapshotterConfig{
		Interval:   cfg.Snapshot.Interval,
		RetryMin:   cfg.Snapshot.RetryMin,
		RetryMax:   cfg.Snapshot.RetryMax,
		MaxRetries: cfg.Snapshot.MaxRetries,
	}, store, m, log)
}

// ProvideLedger creates the process-wide alpha spending ledger.
func ProvideLedger(cfg *config.Config, m repository.Metrics, audit repository.AuditSink) (*ledger.Ledger, error) {
	pol, err := ledger.PolicyFromName(cfg.Ledger.Policy, cfg.Ledger.ExpectedTests)
	if err != nil {
		return nil, fmt.Errorf("ledger policy: %w", err)
	}
	led, err := ledger.New(cfg.Ledger.TotalBudget, pol,
		ledger.WithMetrics(m),
		ledger.WithAuditSink(audit),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return led, nil
}

// ProvideTesterFactory arms one sequential test per promotion stage, drawing
// its alpha allowance from the ledger.
func ProvideTesterFactory(cfg *config.Config, led *ledger.Ledger, m repository.Metrics, log *logger.Logger) policy.TesterFactory {
	return func(policyID string, stage models.LifecycleStatus) (policy.SequentialTester, error) {
		testIndex := led.RegisterTest()
		alpha := led.Allowance(testIndex, led.SpendCount())
		if alpha <= 0 {
			return nil, fmt.Errorf("no alpha allowance left for test %d", testIndex)
		}
		id := fmt.Sprintf("%s/%s", policyID, stage)
		t, err := governance.NewTester(id, governance.Config{
			Alpha:     alpha,
			Beta:      cfg.Governance.Beta,
			Mu0:       cfg.Governance.Mu0,
			Mu1:       cfg.Governance.Mu1,
			Sigma:     cfg.Governance.Sigma,
			MaxSample: cfg.Governance.MaxSample,
		}, led, m, log)
		if err != nil {
			return nil, fmt.Errorf("arm tester %s: %w", id, err)
		}
		return t, nil
	}
}

// ProvidePolicyManager creates the policy lifecycle registry.
func ProvidePolicyManager(factory policy.TesterFactory, m repository.Metrics, audit repository.AuditSink, log *logger.Logger) (*policy.Manager, error) {
	return policy.NewManager(factory, m, audit, log)
}

// ProvideGovernanceService wires the governance flow and restores persisted
// ledger and registry state.
func ProvideGovernanceService(
	mgr *policy.Manager,
	led *ledger.Ledger,
	snap *usecase.Snapshotter,
	store *internalrepo.FileSnapshotStore,
	log *logger.Logger,
) (*usecase.GovernanceService, error) {
	gov := usecase.NewGovernanceService(mgr, led, snap, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	persisted, err := store.LoadProcess(ctx)
	if err != nil {
		return nil, fmt.Errorf("load process snapshot: %w", err)
	}
	if persisted != nil {
		if err := gov.Restore(persisted, time.Now()); err != nil {
			return nil, fmt.Errorf("restore process snapshot: %w", err)
		}
		log.Info("governance state restored",
			logger.Int("policies", len(persisted.Policies)),
			logger.Float64("alpha_spent", persisted.Ledger.Cumulative))
	}
	return gov, nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	orc := cfg.Orchestrator
	return orchestrator.Config{
		DwellMinDerisk:     orc.DwellMinDerisk,
		DwellMinRecovery:   orc.DwellMinRecovery,
		BlockCooldown:      orc.BlockCooldown,
		BlockCleanWindow:   orc.BlockCleanWindow,
		AllowFastPath:      orc.AllowBlockFastPath,
		KappaPlusSoftFloor: orc.KappaPlusSoftFloor,
		Guards: orchestrator.GuardsFromThresholds(map[orchestrator.Kind][2]float64{
			models.GuardCoverageEMA:        {orc.CoverageEMA.Soft, orc.CoverageEMA.Hard},
			models.GuardCoverageMissStreak: {orc.CoverageMissStreak.Soft, orc.CoverageMissStreak.Hard},
			models.GuardLatencyP95:         {orc.LatencyP95Ms.Soft, orc.LatencyP95Ms.Hard},
			models.GuardSurprisalP95:       {orc.SurprisalP95.Soft, orc.SurprisalP95.Hard},
			models.GuardRelIntervalWidth:   {orc.RelIntervalWidth.Soft, orc.RelIntervalWidth.Hard},
			models.GuardKappa:              {orc.Kappa.Soft, orc.Kappa.Hard},
			models.GuardKappaPlus:          {orc.KappaPlus.Soft, orc.KappaPlus.Hard},
		}),
	}
}

func calibratorConfig(cfg *config.Config) calibrate.Config {
	cal := cfg.Calibration
	return calibrate.Config{
		AlphaBase:        cal.AlphaBase,
		AlphaMin:         cal.AlphaMin,
		AlphaMax:         cal.AlphaMax,
		TransitionBoost:  cal.TransitionBoost,
		ACIWeight:        cal.ACIWeight,
		LearnRateBase:    cal.LearnRateBase,
		LearnRateShift:   cal.LearnRateShift,
		CoverageLambda:   cal.CoverageLambda,
		CooldownCycles:   cal.CooldownCycles,
		InflationCeiling: cal.InflationCeiling,
		MinCalibration:   cal.MinCalibration,
		ReferenceZ:       cal.ReferenceZ,
		Quantile: quantile.Config{
			Warmup:  cal.QuantileWarmup,
			Default: cal.QuantileDefault,
		},
	}
}

// ProvideFeedRouter builds one pipeline per configured profile, restores
// persisted stream state, and registers everything with the router.
func ProvideFeedRouter(
	cfg *config.Config,
	m repository.Metrics,
	log *logger.Logger,
	publisher repository.DecisionPublisher,
	audit repository.AuditSink,
	decisions repository.DecisionCache,
	snap *usecase.Snapshotter,
	store *internalrepo.FileSnapshotStore,
) (*usecase.FeedRouter, error) {
	router := usecase.NewFeedRouter(snap)
	gateCfg := gate.Config{
		ScalePass:        cfg.Gate.ScalePass,
		ScaleDerisk:      cfg.Gate.ScaleDerisk,
		ScaleBlock:       cfg.Gate.ScaleBlock,
		MinNotional:      cfg.Gate.MinNotional,
		MaxNotional:      cfg.Gate.MaxNotional,
		HardBlockOnGuard: cfg.Gate.HardBlockOnGuard,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, profile := range cfg.Profiles {
		p := usecase.NewPipeline(
			usecase.PipelineConfig{
				Profile:         profile.Name,
				BaseNotional:    profile.BaseNotional,
				CycleBudget:     cfg.Pipeline.CycleBudget,
				LatencyWindow:   cfg.Pipeline.LatencyWindow,
				SurprisalWindow: cfg.Pipeline.SurprisalWindow,
			},
			calibrate.New(calibratorConfig(cfg)),
			uncertainty.New(uncertainty.Config{
				StateWeight:    cfg.Uncertainty.StateWeight,
				ModelWeight:    cfg.Uncertainty.ModelWeight,
				ForecastWeight: cfg.Uncertainty.ForecastWeight,
				Gamma:          cfg.Uncertainty.Gamma,
				BCCLambda:      cfg.Uncertainty.BCCLambda,
				WidthScale:     cfg.Uncertainty.WidthScale,
			}),
			orchestrator.New(orchestratorConfig(cfg), profile.Name, m, log),
			gate.New(gateCfg, m, log),
			m,
			log,
			usecase.WithPublisher(publisher),
			usecase.WithAudit(audit),
			usecase.WithCache(decisions),
		)

		persisted, err := store.LoadStream(ctx, profile.Name)
		if err != nil {
			return nil, fmt.Errorf("load stream snapshot %s: %w", profile.Name, err)
		}
		if persisted != nil {
			if err := p.Restore(persisted); err != nil {
				return nil, fmt.Errorf("restore stream %s: %w", profile.Name, err)
			}
			log.Info("stream state restored", logger.String("profile", profile.Name))
		}

		router.Register(profile.Name, p)
	}
	return router, nil
}

// ProvideKafkaConsumer creates the feed consumer with all topic handlers
// registered, or nil when Kafka is disabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	router *usecase.FeedRouter,
	gov *usecase.GovernanceService,
	m repository.Metrics,
	log *logger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	consumer.RegisterHandler(usecase.NewForecastHandler(cfg.Kafka.ForecastTopic, router, m, log))
	consumer.RegisterHandler(usecase.NewOutcomeHandler(cfg.Kafka.OutcomeTopic, router, m, log))
	consumer.RegisterHandler(usecase.NewPolicyMetricHandler(cfg.Kafka.PolicyTopic, gov, m, log))
	return consumer, nil
}

// ProvideAPIHandler creates the read-only HTTP surface.
func ProvideAPIHandler(log *logger.Logger, decisions repository.DecisionCache, mgr *policy.Manager, led *ledger.Ledger) xhttp.Handler {
	return api.NewHandler(log, decisions, mgr, led)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	snap *usecase.Snapshotter,
	handler xhttp.Handler,
	router *usecase.FeedRouter,
	consumer *pkgkafka.Consumer,
	audit repository.AuditSink,
	publisher repository.DecisionPublisher,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
) *server.App {
	app := server.New(cfg, log, snap, handler)
	app.SetInfra(audit, publisher, chClient, cacheSvc)
	if consumer != nil {
		app.SetConsumer(consumer)
	}

	// WebSocket feed: one runner per profile, each with its own connection,
	// so the strictly-sequential pipeline contract holds without locking.
	if cfg.ModelFeed.Enabled {
		for _, profile := range cfg.Profiles {
			p, ok := router.Pipeline(profile.Name)
			if !ok {
				continue
			}
			feed := modelfeed.New(
				cfg.ModelFeed.WebSocketURL,
				cfg.ModelFeed.APIKey,
				[]string{profile.Name},
				cfg.ModelFeed.ReconnectDelay,
				cfg.ModelFeed.PingInterval,
				log,
			)
			app.AddRunner(usecase.NewStreamRunner(p, feed, snap, log))
		}
	}
	return app
}
