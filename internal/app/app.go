// internal/app/app.go
// Package app wires configuration, logging, the pipeline components,
// the observability HTTP server, and graceful shutdown handling for
// the login stream processor.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/segmentio/kafka-go"

	"github.com/dipen321/kafka-pipeline/internal/aggregate"
	"github.com/dipen321/kafka-pipeline/internal/breaker"
	"github.com/dipen321/kafka-pipeline/internal/config"
	"github.com/dipen321/kafka-pipeline/internal/httpapi"
	"github.com/dipen321/kafka-pipeline/internal/ingest"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
	"github.com/dipen321/kafka-pipeline/internal/pipeline"
	"github.com/dipen321/kafka-pipeline/internal/publish"
	"github.com/dipen321/kafka-pipeline/internal/report"
)

// Application owns the lifecycle of one pipeline instance.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	logFile  *os.File
	mets     *metrics.Set
	consumer *ingest.Consumer
	producer *publish.Producer
	loop     *pipeline.Loop
	reporter *report.Reporter
	health   *httpapi.HealthState
	server   *http.Server
}

// New prepares a fully wired processor instance from the supplied
// configuration.
func New(cfg config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := newLogger(lf)
	mets := metrics.New()

	consumer, err := ingest.New(ingest.Config{
		Brokers:     cfg.Brokers,
		Topic:       cfg.InputTopic,
		GroupID:     cfg.GroupID,
		PollTimeout: cfg.PollTimeout,
	}, logger, mets)
	if err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("source adapter init: %w", err)
	}

	brk := breaker.New("sink-writer", breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.With(slog.String("component", "breaker")))

	producer, err := publish.New(publish.Config{
		Brokers:   cfg.Brokers,
		Topic:     cfg.OutputTopic,
		Linger:    cfg.Linger,
		BatchSize: cfg.BatchSize,
		QueueSize: cfg.PublishQueueSize,
	}, logger, mets, brk)
	if err != nil {
		_ = consumer.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("sink adapter init: %w", err)
	}

	state := aggregate.NewState(cfg.HistogramRetention)
	reporter := report.New(state, cfg.InsightEvery, logger.With(slog.String("component", "reporter")), mets)
	loop := pipeline.NewLoop(consumer, pipeline.NewFilter(cfg.AllowedAppVersions), state, reporter, producer, logger, mets)

	health := httpapi.NewHealthState()
	router := httpapi.NewRouter(logger, health, reporter, mets.Handler())
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:      cfg,
		logger:   logger,
		logFile:  lf,
		mets:     mets,
		consumer: consumer,
		producer: producer,
		loop:     loop,
		reporter: reporter,
		health:   health,
		server:   server,
	}, nil
}

// Logger exposes the application logger for the entry point.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run probes the broker, starts the sink and HTTP server, and drives
// the processing loop until the context is canceled. Startup failures
// return an error; steady-state per-event failures never do.
func (a *Application) Run(ctx context.Context) error {
	if err := a.probeBroker(ctx); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	if err := a.producer.Start(ctx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("http_listen", slog.String("addr", a.cfg.ListenAddress))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	a.health.SetReady()
	a.logger.Info("pipeline_ready",
		slog.String("input_topic", a.cfg.InputTopic),
		slog.String("output_topic", a.cfg.OutputTopic),
		slog.String("group", a.cfg.GroupID),
		slog.String("brokers", strings.Join(a.cfg.Brokers, ",")),
		slog.Int("insight_every", a.cfg.InsightEvery))

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.loop.Run(ctx) }()

	var runErr error
	select {
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-loopDone:
		runErr = err
	case <-ctx.Done():
		select {
		case runErr = <-loopDone:
		case <-time.After(a.cfg.ShutdownTimeout):
			a.logger.Error("loop_shutdown_timeout")
		}
	}

	a.shutdown()
	return runErr
}

// probeBroker dials the first broker so a completely unreachable
// cluster fails startup instead of spinning in the retry loop.
func (a *Application) probeBroker(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", a.cfg.Brokers[0])
	if err != nil {
		return err
	}
	if cerr := conn.Close(); cerr != nil {
		a.logger.Error("probe_conn_close_err", slog.Any("err", cerr))
	}
	return nil
}

// shutdown stops the HTTP server, drains the sink, and closes the
// consumer. Errors here are logged, not returned: shutdown is best
// effort once the loop has exited.
func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http_shutdown_err", slog.Any("err", err))
	}
	if err := a.producer.Stop(shutdownCtx); err != nil {
		a.logger.Error("sink_stop_err", slog.Any("err", err))
	}
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("consumer_close_err", slog.Any("err", err))
	}
}

// Close releases resources owned by the application.
func (a *Application) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
