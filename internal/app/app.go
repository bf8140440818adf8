package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/verum/verum-indexer/internal/api"
	"github.com/verum/verum-indexer/internal/cache"
	"github.com/verum/verum-indexer/internal/config"
	"github.com/verum/verum-indexer/internal/ledger"
	"github.com/verum/verum-indexer/internal/logging"
	"github.com/verum/verum-indexer/internal/service"
	"github.com/verum/verum-indexer/internal/storage"
	"github.com/verum/verum-indexer/internal/storage/postgres"
)

type Application struct {
	Server *http.Server
	store  storage.Store
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	client, err := ledger.NewClient(
		cfg.Ledger.NodeURL,
		cfg.Ledger.BearerToken,
		time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("build ledger client: %w", err)
	}

	var store storage.Store
	if cfg.StorageEnabled() {
		pg, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = pg
	}

	chainSvc := service.NewChainService(service.ChainParams{
		Fetcher:     client,
		BatchSize:   cfg.Indexer.BatchSize,
		MaxBatches:  cfg.Indexer.MaxBatches,
		EpochCutoff: cfg.EpochCutoffUnix(),
		Logger:      logger,
	})
	storySvc := service.NewStoryService(service.StoryParams{
		Fetcher:    client,
		WindowSize: cfg.Indexer.MaxSearchDepth,
		TimeSlack:  time.Duration(cfg.Indexer.SegmentTimeSlackSeconds) * time.Second,
	})
	engagementSvc := service.NewEngagementService(service.EngagementParams{
		Fetcher:     client,
		Cache:       cache.New(time.Duration(cfg.Indexer.CacheTTLSeconds) * time.Second),
		SearchDepth: cfg.Indexer.MaxSearchDepth,
		HardCap:     cfg.Indexer.WindowHardCap,
	})

	indexer, err := service.NewIndexer(service.IndexerParams{
		Fetcher:     client,
		Chain:       chainSvc,
		Story:       storySvc,
		Engagement:  engagementSvc,
		Store:       store,
		Logger:      logger,
		ServiceName: cfg.Logging.Service,
		Version:     cfg.Logging.Version,
		Network:     cfg.Logging.Network,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("build indexer service: %w", err)
	}

	handler := api.NewHandler(indexer, logger)
	router := http.Handler(handler.Router())
	if *cfg.Security.EnableIPAllow {
		mw, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, fmt.Errorf("configure ip allow list: %w", err)
		}
		router = mw(router)
	}
	if *cfg.Security.EnableBearerAuth {
		router = api.BearerAuthMiddleware(cfg.Security.BearerToken)(router)
	}
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		Network: cfg.Logging.Network,
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, store: store}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a.store != nil {
		defer a.store.Close()
	}
	return a.Server.Shutdown(ctx)
}
