package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pkaminski/docledger/internal/bootstrap"
	"github.com/pkaminski/docledger/internal/config"
	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/observability/logging"
	"github.com/pkaminski/docledger/internal/observability/metrics"
)

const serviceName = "docledger-worker"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	go serveMetrics(logger, cfg.WorkerMetricsPort, workerMetrics)
	go sweepStuck(ctx, app, logger, workerMetrics, time.Duration(cfg.StuckSweepMinutes)*time.Minute)

	processTimeout := time.Duration(cfg.ProcessTimeoutSeconds) * time.Second
	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeDocumentUploaded(ctx, func(handlerCtx context.Context, documentID int64) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		workerMetrics.StartDocument()
		start := time.Now()
		processErr := app.ProcessUC.ProcessByID(processCtx, documentID)
		workerMetrics.FinishDocument(serviceName, time.Since(start), processErr)

		if processErr != nil {
			// Lost claim races are expected with competing consumers.
			if domain.IsKind(processErr, domain.ErrConcurrentModification) ||
				domain.IsKind(processErr, domain.ErrInvalidTransition) {
				logger.Info("document already claimed", "document_id", documentID)
				return nil
			}
			logger.Error("process document", "document_id", documentID, "error", processErr)
		}
		return processErr
	})
	if err != nil {
		logger.Error("worker subscribe", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(logger *slog.Logger, port string, m *metrics.WorkerMetrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logger.Info("worker metrics listening", "port", port)
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("worker metrics server", "error", err)
	}
}

// sweepStuck periodically fails documents stuck in processing, so crashed
// workers cannot strand them forever.
func sweepStuck(ctx context.Context, app *bootstrap.App, logger *slog.Logger, m *metrics.WorkerMetrics, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := app.ProcessUC.SweepStuck(ctx, maxAge)
			if err != nil {
				logger.Error("sweep stuck documents", "error", err)
				continue
			}
			if swept > 0 {
				m.ObserveSwept(serviceName, swept)
				logger.Warn("swept stuck documents", "count", swept, "max_age", maxAge.String())
			}
		}
	}
}
