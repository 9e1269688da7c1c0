package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/artpar/shipwright/internal/shell/api"
	"github.com/artpar/shipwright/internal/shell/docker"
	"github.com/artpar/shipwright/internal/shell/engine"
	"github.com/artpar/shipwright/internal/shell/notify"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/artpar/shipwright/internal/shell/verify"
	"github.com/artpar/shipwright/internal/shell/workspace"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Shipwright application server.
type Server struct {
	config        *Config
	httpServer    *http.Server
	store         store.Store
	docker        docker.Client
	orchestrator  *engine.Orchestrator
	monitorWorker *engine.MonitorWorker
	dispatcher    *notify.Dispatcher
	logger        *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Ensure the database directory exists
	if dir := filepath.Dir(cfg.Database.DSN); dir != "." && !strings.HasPrefix(cfg.Database.DSN, ":") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDatabaseError,
			}
		}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host, cfg.Docker.SSHKeyPath)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Verify Docker connection
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Ping(pingCtx); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Compose workspace
	ws := workspace.New(cfg.Workspace.ComposeDir, cfg.Workspace.BackupDir, logger)

	// Deployment runtime and verification suite
	runtime := docker.NewRuntime(d, logger)
	suite := verify.NewSuite(runtime, verify.Config{
		PollCount:    cfg.Verify.HealthPollCount,
		PollInterval: cfg.Verify.HealthPollInterval,
	}, logger)

	// Pipeline workers
	executor := engine.NewExecutor(s, logger)
	steps := engine.NewSteps(ws, runtime, suite, logger)
	orchestrator := engine.NewOrchestrator(s, executor, steps, ws, engine.OrchestratorConfig{
		Interval: cfg.Engine.RunInterval,
	}, logger)
	analyzer := engine.NewEvidenceAnalyzer(runtime, logger)
	monitorWorker := engine.NewMonitorWorker(s, executor, steps, analyzer, engine.MonitorConfig{
		Interval: cfg.Engine.MonitorInterval,
	}, logger)

	// Notification delivery: the log sink is always on, the webhook sink
	// joins when a URL is configured.
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:       cfg.Notify.WebhookURL,
			AuthToken: cfg.Notify.WebhookToken,
		}))
		logger.Info("webhook notifications enabled", "url", cfg.Notify.WebhookURL)
	} else {
		logger.Info("webhook notifications disabled")
	}
	dispatcher := notify.NewDispatcher(s, sinks, notify.DispatcherConfig{
		Interval:  cfg.Notify.Interval,
		BatchSize: cfg.Notify.BatchSize,
	}, logger)

	// Create HTTP server
	handler := api.NewHandler(s, d, ws, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:        cfg,
		httpServer:    httpServer,
		store:         s,
		docker:        d,
		orchestrator:  orchestrator,
		monitorWorker: monitorWorker,
		dispatcher:    dispatcher,
		logger:        logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start pipeline workers
	s.orchestrator.Start()
	s.monitorWorker.Start()
	s.dispatcher.Start()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop workers; each waits for its in-flight cycle
	s.orchestrator.Stop()
	s.monitorWorker.Stop()
	s.dispatcher.Stop()

	// Close Docker client
	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
