package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/clock"
	"fleetwatch/internal/config"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/ingest"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/notifyqueue"
	"fleetwatch/internal/scheduler"
	"fleetwatch/internal/store"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable fleetwatch service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	backend   *store.NATSBackend
	alerts    store.AlertStore
	rules     store.RuleStore
	history   store.HistoryLog
	ruleCache *cache.RuleCache
	views     *cache.ViewCache
	bus       *cache.NATSBus
	producer  notifyqueue.Producer
	engine    *engine.Engine
	manager   *Manager
	sched     *scheduler.Scheduler
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	if err := service.buildStores(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildCaches()
	if err := service.buildBus(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildProducer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.engine = engine.New(
		service.alerts,
		service.rules,
		service.history,
		service.ruleCache,
		service.producer,
		logger,
		clk,
		engine.SelectionPolicy(cfg.Service.RuleSelection),
	)
	service.manager = NewManager(cfg, logger, service.alerts, service.rules, service.history, service.engine, service.views, service.invalidator(), clk)
	service.sched = scheduler.New(service.alerts, service.engine, service.views, service.invalidator(), logger, clk, cfg.Sweep)

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	if err := s.engine.ReloadRules(shutdownCtx); err != nil {
		s.logger.Warn("initial rule load failed, deferring to lazy load", "error", err.Error())
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if err := s.buildNATSSubscriber(shutdownCtx); err != nil {
		_ = s.shutdown()
		return err
	}

	s.sched.Start(shutdownCtx)
	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.sched != nil {
		s.sched.Stop()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Error("cache bus close failed", "error", err.Error())
			markErr(fmt.Errorf("cache bus close: %w", err))
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.logger.Error("notify queue producer close failed", "error", err.Error())
			markErr(fmt.Errorf("notify queue producer close: %w", err))
		}
	}
	markErr(s.closeStores())
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.bus != nil {
		_ = s.bus.Close()
		s.bus = nil
	}
	if s.producer != nil {
		_ = s.producer.Close()
		s.producer = nil
	}
	_ = s.closeStores()
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// closeStores closes either the shared NATS backend or memory stores.
func (s *Service) closeStores() error {
	if s.backend != nil {
		err := s.backend.Close()
		s.backend = nil
		if err != nil {
			s.logger.Error("store close failed", "error", err.Error())
			return fmt.Errorf("store close: %w", err)
		}
		return nil
	}
	var firstErr error
	for _, closer := range []interface{ Close() error }{s.alerts, s.rules, s.history} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.alerts, s.rules, s.history = nil, nil, nil
	return firstErr
}

// buildStores selects the persistence backend for the configured mode.
// Params: none.
// Returns: backend initialization error.
func (s *Service) buildStores() error {
	if s.cfg.Service.Mode == config.ServiceModeSingle {
		s.alerts = store.NewMemoryAlertStore(s.clock.Now)
		s.rules = store.NewMemoryRuleStore()
		s.history = store.NewMemoryHistoryLog()
		return nil
	}

	backend, err := store.NewNATSBackend(s.cfg.Store.NATS, s.clock.Now)
	if err != nil {
		return fmt.Errorf("nats store init: %w", err)
	}
	s.backend = backend
	s.alerts = backend.Alerts()
	s.rules = backend.Rules()
	s.history = backend.History()
	return nil
}

func (s *Service) buildCaches() {
	s.ruleCache = cache.NewRuleCache(time.Duration(s.cfg.Cache.RuleTTLSec) * time.Second)
	s.views = cache.NewViewCache(time.Duration(s.cfg.Cache.ViewTTLSec) * time.Second)
}

// buildBus starts cross-process cache invalidation when enabled.
// Params: none.
// Returns: bus initialization error.
func (s *Service) buildBus() error {
	if !s.cfg.Cache.Bus.Enabled {
		return nil
	}
	bus, err := cache.NewNATSBus(s.cfg.Cache.Bus, s.onPeerInvalidation, s.logger)
	if err != nil {
		return fmt.Errorf("cache bus init: %w", err)
	}
	s.bus = bus
	return nil
}

// onPeerInvalidation drops local caches when a peer publishes a prefix.
// Params: invalidated cache prefix.
// Returns: none; rule reload failures are logged and retried by the next
// rule-evaluation sweep.
func (s *Service) onPeerInvalidation(prefix string) {
	if s.views != nil {
		s.views.InvalidateByPrefix(prefix)
	}
	if prefix == cache.PrefixRules && s.engine != nil {
		if err := s.engine.InvalidateRules(context.Background()); err != nil {
			s.logger.Warn("peer-triggered rule reload failed", "error", err.Error())
		}
	}
}

// invalidator exposes the bus as an Invalidator or a noop fallback.
func (s *Service) invalidator() cache.Invalidator {
	if s.bus != nil {
		return s.bus
	}
	return cache.NoopInvalidator{}
}

// buildProducer starts the escalation handoff queue producer when enabled.
// Params: none.
// Returns: producer initialization error.
func (s *Service) buildProducer() error {
	if !s.cfg.NotifyQueue.Enabled {
		s.producer = notifyqueue.NoopProducer{}
		return nil
	}
	producer, err := notifyqueue.NewNATSProducer(s.cfg.NotifyQueue)
	if err != nil {
		return fmt.Errorf("notify queue init: %w", err)
	}
	s.producer = producer
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: runtime context for the consumer callbacks.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber(ctx context.Context) error {
	if s.cfg.Service.Mode == config.ServiceModeSingle {
		return nil
	}
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(ctx, s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildHTTPServer wires router with ingest, operator, and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	httpCfg := s.cfg.Ingest.HTTP

	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(httpCfg.MetricsPath, promhttp.Handler())

	if httpCfg.Enabled {
		handler := ingest.NewHTTPHandler(s.manager, httpCfg.MaxBodyBytes)
		mux.Handle(httpCfg.AlertsPath, handler)
		batchPath := strings.TrimSuffix(httpCfg.AlertsPath, "/") + "/batch"
		if batchPath != httpCfg.AlertsPath {
			mux.Handle(batchPath, handler)
		}
	}

	base := strings.TrimSuffix(httpCfg.AlertsPath, "/")
	mux.HandleFunc(base+"/active", s.handleListActive)
	mux.HandleFunc(base+"/resolve", s.handleResolve)
	mux.HandleFunc("/dashboard", s.handleDashboard)
	mux.HandleFunc("/rules", s.handleUpsertRule)
	mux.HandleFunc("/rules/delete", s.handleDeleteRule)
	mux.HandleFunc("/sweeps/auto-close", s.sweepHandler(s.sched.RunAutoCloseSweep))
	mux.HandleFunc("/sweeps/rule-eval", s.sweepHandler(s.sched.RunRuleEvaluationSweep))

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}
