// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/ballotbox"
	"github.com/blinklabs-io/ballotbox/ballot"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/internal/config"
	"github.com/blinklabs-io/ballotbox/terminal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run starts the configured ballot sessions against a terminal surface and
// blocks until every session has closed or a termination signal arrives
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "service")
	if len(cfg.Sessions) == 0 {
		return fmt.Errorf("no sessions configured")
	}

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}

	eventBus := event.NewEventBus(prometheus.DefaultRegisterer, logger)
	defer eventBus.Stop()
	surface := terminal.NewSurface(terminal.SurfaceConfig{
		Logger:   logger,
		EventBus: eventBus,
	})

	// Sessions are removed from the registry as their loops terminate; the
	// callback tells us when the last one is gone
	allDone := make(chan struct{})
	registry := ballotbox.NewRegistry(ballotbox.RegistryConfig{
		Logger: logger,
	})
	remaining := len(cfg.Sessions)
	doneCh := make(chan struct{}, len(cfg.Sessions))

	for _, sessionCfg := range cfg.Sessions {
		method, err := ballot.ParseMethod(sessionCfg.Method)
		if err != nil {
			return err
		}
		timeout, err := sessionCfg.ParsedTimeout()
		if err != nil {
			return err
		}
		opts := []ballotbox.ConfigOptionFunc{
			ballotbox.WithLogger(logger),
			ballotbox.WithEventBus(eventBus),
			ballotbox.WithSurface(surface),
			ballotbox.WithMethod(method),
			ballotbox.WithChoices(sessionCfg.Choices...),
			ballotbox.WithAllowResubmission(sessionCfg.AllowResubmission),
			ballotbox.WithShowResultOnClose(!sessionCfg.HideResultOnClose),
			// Enable metrics with default prometheus registry
			ballotbox.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		}
		if sessionCfg.Name != "" {
			opts = append(opts, ballotbox.WithSessionId(sessionCfg.Name))
		}
		if timeout > 0 {
			opts = append(opts, ballotbox.WithTimeout(timeout))
		}
		if sessionCfg.PageSize > 0 {
			opts = append(opts, ballotbox.WithPageSize(sessionCfg.PageSize))
		}
		engine, err := ballotbox.NewEngine(ballotbox.NewConfig(opts...))
		if err != nil {
			return fmt.Errorf("session %q: %w", sessionCfg.Name, err)
		}
		if err := engine.Start(); err != nil {
			return fmt.Errorf("session %q: %w", sessionCfg.Name, err)
		}
		if err := registry.AddSession(engine); err != nil {
			return err
		}
		go func(e *ballotbox.Engine) {
			<-e.Done()
			doneCh <- struct{}{}
		}(engine)
	}
	go func() {
		for range doneCh {
			remaining--
			if remaining == 0 {
				close(allDone)
				return
			}
		}
	}()

	// Participant input from stdin
	inputLoop := terminal.NewInputLoop(terminal.InputLoopConfig{
		Logger:   logger,
		EventBus: eventBus,
	})
	go func() {
		if err := inputLoop.Run(context.Background()); err != nil {
			logger.Error(
				"input loop terminated",
				"component", "service",
				"error", err,
			)
		}
	}()

	// Metrics listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"service",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "service",
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		if err := registry.Stop(); err != nil {
			logger.Error("failed to stop sessions", "error", err)
		}
		// Give the session loops a chance to emit their closing displays
		select {
		case <-allDone:
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out")
		}
	case <-allDone:
		logger.Info("all sessions closed", "component", "service")
	}

	// Shutdown metrics server
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	return nil
}
