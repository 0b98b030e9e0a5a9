package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"alarmcore/internal/alarm"
	"alarmcore/internal/api"
	"alarmcore/internal/clock"
	"alarmcore/internal/config"
	"alarmcore/internal/ingest"
	"alarmcore/internal/logging"
	"alarmcore/internal/notify"
	"alarmcore/internal/rulesource"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alarm service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	core      *alarm.Core
	watcher   *alarm.Watcher
	rules     rulesource.Source
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	closers   []namedCloser
	readyFlag atomic.Bool
}

type namedCloser struct {
	name   string
	closer interface{ Close() error }
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
	logger = logger.With("service", cfg.Service.Name)

	catalog, err := config.BuildCatalog(cfg.Metric)
	if err != nil {
		closeLog()
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
	}
	service.core = alarm.New(
		alarm.WithClock(clk),
		alarm.WithLogger(logging.Component(logger, "alarm")),
		alarm.WithTickOffset(cfg.Service.TickOffsetSec),
		alarm.WithTickTimeout(cfg.Service.TickTimeout()),
		alarm.WithCallbackTimeout(cfg.Service.CallbackTimeout()),
	)
	service.watcher = alarm.NewWatcher(service.core, catalog, logging.Component(logger, "rules"))

	if err := service.buildCallbacks(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildRulesSource(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildHTTPServer()

	return service, nil
}

// Core returns the alarm core driven by the service.
func (s *Service) Core() *alarm.Core {
	return s.core
}

// Ready reports whether the service finished startup.
func (s *Service) Ready() bool {
	return s.readyFlag.Load()
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.rules.Start(runCtx, s.watcher.OnChange); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("start rules source: %w", err)
	}

	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		s.core.Run(runCtx, s.cfg.Service.TickInterval())
	}()

	s.readyFlag.Store(true)
	s.logger.Info("alarm service started", "tick_interval", s.cfg.Service.TickInterval().String(), "rules_source", s.cfg.Rules.Source)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}
	cancel()
	<-tickDone
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
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

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.rules != nil {
		if err := s.rules.Close(); err != nil {
			s.logger.Error("rules source close failed", "error", err.Error())
			markErr(fmt.Errorf("rules source close: %w", err))
		}
	}
	for _, entry := range s.closers {
		if err := entry.closer.Close(); err != nil {
			s.logger.Error("callback close failed", "callback", entry.name, "error", err.Error())
			markErr(fmt.Errorf("%s close: %w", entry.name, err))
		}
	}
	s.logger.Info("alarm service stopped")
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
	if s.rules != nil {
		_ = s.rules.Close()
		s.rules = nil
	}
	for _, entry := range s.closers {
		_ = entry.closer.Close()
	}
	s.closers = nil
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildCallbacks registers enabled alarm hooks on the core.
// Params: none.
// Returns: setup error from a transport that failed to connect.
func (s *Service) buildCallbacks() error {
	hooks := s.cfg.Hooks
	if hooks.Log.Enabled {
		s.core.RegisterCallback(notify.NewLogCallback(logging.Component(s.logger, "hook.log")))
	}
	if hooks.Webhook.Enabled {
		webhook := notify.NewWebhookCallback(hooks.Webhook, logging.Component(s.logger, "hook.webhook"))
		s.core.RegisterCallback(webhook)
		s.watcher.AddHookSettingsListener(webhook)
	}
	if hooks.NATS.Enabled {
		publisher, err := notify.NewNATSPublisher(hooks.NATS, logging.Component(s.logger, "hook.nats"))
		if err != nil {
			return err
		}
		s.core.RegisterCallback(publisher)
		s.closers = append(s.closers, namedCloser{name: publisher.Name(), closer: publisher})
	}
	if hooks.Kafka.Enabled {
		publisher, err := notify.NewKafkaPublisher(hooks.Kafka)
		if err != nil {
			return err
		}
		s.core.RegisterCallback(publisher)
		s.closers = append(s.closers, namedCloser{name: publisher.Name(), closer: publisher})
	}
	return nil
}

// buildRulesSource creates rules document feed.
// Params: none.
// Returns: source construction error.
func (s *Service) buildRulesSource() error {
	source, err := rulesource.New(s.cfg.Rules, logging.Component(s.logger, "rulesource"))
	if err != nil {
		return err
	}
	s.rules = source
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.core, logging.Component(s.logger, "ingest.nats"))
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildHTTPServer wires API router when HTTP is enabled.
func (s *Service) buildHTTPServer() {
	if !s.cfg.HTTP.Enabled {
		return
	}
	handler := api.NewHandler(s.cfg.HTTP, s.core, s.core, &s.readyFlag, logging.Component(s.logger, "api"))
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
