package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"notes-sync-indexer/internal/chunker"
	"notes-sync-indexer/internal/config"
	"notes-sync-indexer/internal/embedding"
	"notes-sync-indexer/internal/icloud"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/repository"
	"notes-sync-indexer/internal/service"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
)

type stores struct {
	chunks   repository.ChunkRepository
	sessions repository.SessionRepository
	reports  repository.ReportRepository
	close    func()
}

// app holds the components shared by the serve and sync commands.
type app struct {
	cfg       *config.Config
	stores    *stores
	tokenizer *chunker.Tokenizer
	embedder  *embedding.OpenAIClient
	icloud    *icloud.Client
	logCloser io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logCloser, err := logger.Setup(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	tokenizer, err := chunker.NewTokenizer(chunker.DefaultEncoding)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		stores:    st,
		tokenizer: tokenizer,
		embedder: embedding.NewOpenAIClient(embedding.Config{
			APIKey:            cfg.Embedding.APIKey,
			Model:             cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		}),
		icloud: icloud.NewClient(icloud.Config{
			Database:          cfg.ICloud.Database,
			RequestsPerSecond: cfg.ICloud.RequestsPerSecond,
		}),
		logCloser: logCloser,
	}, nil
}

func (a *app) Close() {
	a.stores.close()
	a.logCloser.Close()
}

func (a *app) authService(codes service.CodeSource, events service.EventPublisher, verifyURL string) *service.AuthService {
	return service.NewAuthService(a.icloud, a.stores.sessions, codes, events, service.AuthConfig{
		Username:     a.cfg.ICloud.Username,
		Password:     a.cfg.ICloud.Password,
		Environment:  a.cfg.ICloud.Environment,
		PollInterval: a.cfg.Sync.SecondFactorPollInterval,
		Deadline:     a.cfg.Sync.SecondFactorTimeout,
		VerifyURL:    verifyURL,
	})
}

func (a *app) syncService(sessions service.SessionProvider, events service.EventPublisher) (*service.SyncService, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return service.NewSyncService(
		sessions,
		a.icloud,
		chunker.New(a.tokenizer, a.cfg.Sync.ChunkMaxTokens, loc),
		a.embedder,
		a.stores.chunks,
		a.stores.reports,
		events,
		a.cfg.Sync.Workers,
	), nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		return openMongo(ctx, cfg)
	default:
		return openCouch(ctx, cfg)
	}
}

func openCouch(ctx context.Context, cfg *config.Config) (*stores, error) {
	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		slog.Info("created database", "name", cfg.Database.Name)
	}

	if err := repository.EnsureChunkIndexes(ctx, client, cfg.Database.Name); err != nil {
		return nil, err
	}

	slog.Info("connected to CouchDB", "host", cfg.Database.Host, "port", cfg.Database.Port, "db", cfg.Database.Name)
	return &stores{
		chunks:   repository.NewChunkRepository(client, cfg.Database.Name),
		sessions: repository.NewSessionRepository(client, cfg.Database.Name),
		reports:  repository.NewReportRepository(client, cfg.Database.Name),
		close:    func() { client.Close() },
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Mongo.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for the mongo backend")
	}

	client, err := repository.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.Mongo.Database)

	if err := repository.EnsureMongoChunkIndexes(ctx, db); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("connected to MongoDB", "db", cfg.Mongo.Database)
	return &stores{
		chunks:   repository.NewMongoChunkRepository(db, cfg.Mongo.VectorIndex, cfg.Mongo.NumCandidates),
		sessions: repository.NewMongoSessionRepository(db),
		reports:  repository.NewMongoReportRepository(db),
		close:    func() { client.Disconnect(context.Background()) },
	}, nil
}
