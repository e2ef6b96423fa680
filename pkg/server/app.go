package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/usecase"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/cache"
	pkgch "github.com/wekabeka1996/AuroRA-sub000/pkg/clickhouse"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/config"
	xhttp "github.com/wekabeka1996/AuroRA-sub000/pkg/http"
	pkgkafka "github.com/wekabeka1996/AuroRA-sub000/pkg/kafka"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// App owns the process lifecycle: it starts the snapshot write-behind loop,
// the feed consumers, and the HTTP read side, then shuts everything down in
// reverse order on SIGINT/SIGTERM.
type App struct {
	cfg *config.Config
	log *logger.Logger

	runners     []*usecase.StreamRunner
	consumer    *pkgkafka.Consumer
	snapshotter *usecase.Snapshotter
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler

	audit     repository.AuditSink
	publisher repository.DecisionPublisher
	chClient  *pkgch.Client
	cacheSvc  cache.Service

	snapDone chan struct{}
}

// New creates the app shell. Feed sources and infrastructure clients are
// optional; nil fields are simply not started.
func New(cfg *config.Config, log *logger.Logger, snapshotter *usecase.Snapshotter, handler xhttp.Handler) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{cfg: cfg, log: log, snapshotter: snapshotter, httpHandler: handler}
}

// AddRunner attaches one per-profile stream runner.
func (a *App) AddRunner(r *usecase.StreamRunner) { a.runners = append(a.runners, r) }

// SetConsumer attaches the Kafka feed consumer.
func (a *App) SetConsumer(c *pkgkafka.Consumer) { a.consumer = c }

// SetInfra hands the app the closable infrastructure it must tear down last.
func (a *App) SetInfra(audit repository.AuditSink, publisher repository.DecisionPublisher, ch *pkgch.Client, cacheSvc cache.Service) {
	a.audit = audit
	a.publisher = publisher
	a.chClient = ch
	a.cacheSvc = cacheSvc
}

// Run starts everything and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.snapDone = make(chan struct{})
	if a.snapshotter != nil {
		go func() {
			defer close(a.snapDone)
			if err := a.snapshotter.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("snapshotter stopped", logger.Error(err))
			}
		}()
	} else {
		close(a.snapDone)
	}

	for _, r := range a.runners {
		runner := r
		go func() {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("stream runner stopped", logger.Error(err))
			}
		}()
	}
	if len(a.runners) > 0 {
		a.log.Info("stream runners started", logger.Int("count", len(a.runners)))
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer", logger.Error(err))
			}
		}()
	}

	a.httpServer = xhttp.NewServer(a.httpHandler, a.log,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx, cancel)
}

// shutdown stops ingestion first, then flushes state, then closes clients.
func (a *App) shutdown(ctx context.Context, cancel context.CancelFunc) error {
	shutdownCtx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Warn("http shutdown", logger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop", logger.Error(err))
		}
	}

	// Cancelling the root context stops the runners and triggers the
	// snapshotter's final flush; wait for it so state hits disk before the
	// clients close.
	cancel()
	select {
	case <-a.snapDone:
	case <-shutdownCtx.Done():
		a.log.Warn("snapshot final flush timed out")
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close", logger.Error(err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warn("audit close", logger.Error(err))
		}
	}
	if a.cacheSvc != nil {
		if err := a.cacheSvc.Close(); err != nil {
			a.log.Warn("cache close", logger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
