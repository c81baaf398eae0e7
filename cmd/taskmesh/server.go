package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskmesh/taskmesh/api/handlers"
	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/internal/server"
	"github.com/taskmesh/taskmesh/orchestrator"
	"github.com/taskmesh/taskmesh/persistence"
)

// Server wires the configuration into a running taskmesh instance.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	store   persistence.ExecutionStore
	caps    *capability.Registry
	workers *orchestrator.WorkerRegistry
	coord   *orchestrator.Coordinator

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.FileWatcher

	background context.CancelFunc
}

// NewServer assembles the orchestrator and its dependencies from config.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel) (*Server, error) {
	store, err := persistence.NewExecutionStore(cfg.ExecutionStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("create execution store: %w", err)
	}

	caps := capability.NewRegistry(logger)
	workers := orchestrator.NewWorkerRegistry(logger)

	coord, err := orchestrator.NewCoordinator(cfg.CoordinatorConfig(), workers, caps, store, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	if cfg.Metrics.Enabled {
		coord.WithMetrics(metrics.NewCollector(cfg.Metrics.Namespace, nil, logger))
	}

	if cfg.Sandbox.Enabled {
		extender, err := capability.NewExtender(cfg.SandboxPolicy(), logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create sandbox extender: %w", err)
		}
		coord.WithExtender(extender)
		logger.Info("dynamic capability sandbox enabled")
	}

	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
		store:      store,
		caps:       caps,
		workers:    workers,
		coord:      coord,
	}, nil
}

// Workers exposes the worker registry so callers can register workers
// before Start.
func (s *Server) Workers() *orchestrator.WorkerRegistry { return s.workers }

// Capabilities exposes the shared capability registry.
func (s *Server) Capabilities() *capability.Registry { return s.caps }

// Coordinator exposes the underlying coordinator.
func (s *Server) Coordinator() *orchestrator.Coordinator { return s.coord }

// Start launches the HTTP servers and background maintenance.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.background = cancel

	go s.coord.Janitor(ctx)

	if err := s.startHTTPServer(ctx); err != nil {
		cancel()
		return fmt.Errorf("start HTTP server: %w", err)
	}

	if s.cfg.Metrics.Enabled {
		if err := s.startMetricsServer(); err != nil {
			cancel()
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	if err := s.startConfigWatcher(ctx); err != nil {
		s.logger.Warn("config watcher disabled", zap.Error(err))
	}

	if len(s.workers.Names()) == 0 {
		s.logger.Warn("no workers registered, submissions will be rejected")
	}

	suspended, err := s.coord.HITL().ListResumable(ctx)
	if err != nil {
		s.logger.Warn("failed to list suspended executions", zap.Error(err))
	} else if len(suspended) > 0 {
		s.logger.Info("suspended executions awaiting answers", zap.Int("count", len(suspended)))
	}

	s.logger.Info("taskmesh started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled),
		zap.String("store", s.cfg.Store.Type),
	)
	return nil
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	handlers.NewExecutionHandler(s.coord, s.logger).Register(mux)
	handlers.NewHealthHandler(Version, s.logger,
		handlers.StoreCheck{Pinger: s.store},
	).Register(mux)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// startConfigWatcher reloads the log level when the config file changes.
// Other settings require a restart.
func (s *Server) startConfigWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}

	watcher, err := config.NewFileWatcher([]string{s.configPath},
		config.WithWatcherLogger(s.logger),
	)
	if err != nil {
		return err
	}

	watcher.OnChange(func(event config.FileEvent) {
		if event.Op != config.FileOpWrite && event.Op != config.FileOpCreate {
			return
		}
		cfg, err := config.NewLoader().WithConfigPath(s.configPath).Load()
		if err != nil {
			s.logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if cfg.Log.Level != s.cfg.Log.Level {
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(cfg.Log.Level)); err == nil {
				s.logLevel.SetLevel(level)
				s.logger.Info("log level updated", zap.String("level", cfg.Log.Level))
			}
		}
		s.cfg.Log.Level = cfg.Log.Level
	})

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// WaitForShutdown blocks until a shutdown signal, then tears everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops servers, drains executions, and closes the store.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.background != nil {
		s.background()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.coord.Shutdown(ctx); err != nil {
		s.logger.Error("coordinator shutdown error", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
