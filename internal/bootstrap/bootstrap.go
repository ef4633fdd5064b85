package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkaminski/docledger/internal/config"
	"github.com/pkaminski/docledger/internal/core/ports"
	"github.com/pkaminski/docledger/internal/core/usecase"
	"github.com/pkaminski/docledger/internal/infrastructure/export/xlsxreport"
	"github.com/pkaminski/docledger/internal/infrastructure/fingerprint"
	"github.com/pkaminski/docledger/internal/infrastructure/parse"
	"github.com/pkaminski/docledger/internal/infrastructure/queue/nats"
	"github.com/pkaminski/docledger/internal/infrastructure/recognize"
	"github.com/pkaminski/docledger/internal/infrastructure/repository/postgres"
	"github.com/pkaminski/docledger/internal/infrastructure/resilience"
	"github.com/pkaminski/docledger/internal/infrastructure/storage/localfs"
)

// App wires the infrastructure to the use cases for both binaries.
type App struct {
	Config config.Config

	Queue        ports.MessageQueue
	Repo         ports.DocumentRepository
	IngestUC     ports.DocumentIngestor
	ProcessUC    *usecase.ProcessUseCase
	ExtractionUC *usecase.ExtractionUseCase
	DashboardUC  *usecase.DashboardUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	ledger := postgres.NewAttemptRepository(db)
	aggregates := postgres.NewAggregateRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	recognizer := recognize.New(storage, executor)
	parser := parse.New()

	resolver := usecase.NewDuplicateResolver(repo)
	aggregator := usecase.NewAggregationEngine(aggregates, logger)

	ingestUC := usecase.NewIngestUseCase(
		usecase.IngestConfig{
			MaxFileSize:       cfg.MaxFileSize,
			AllowedExtensions: cfg.Extensions(),
		},
		fingerprint.NewSHA256(),
		resolver,
		repo,
		storage,
		queue,
	)
	extractionUC := usecase.NewExtractionUseCase(
		usecase.ExtractionConfig{
			ReviewThreshold:   cfg.ReviewThreshold,
			LineItemTolerance: cfg.LineItemTolerance,
		},
		repo,
		ledger,
		aggregator,
	)
	processUC := usecase.NewProcessUseCase(repo, recognizer, parser, extractionUC, aggregator)
	dashboardUC := usecase.NewDashboardUseCase(repo, aggregates, xlsxreport.New())

	return &App{
		Config: cfg,
		Queue:  queue,
		Repo:   repo,

		IngestUC:     ingestUC,
		ProcessUC:    processUC,
		ExtractionUC: extractionUC,
		DashboardUC:  dashboardUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
