// Package bootstrap provides dependency initialization for the kling panel
// bridge and CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/kling-panel/internal/config"
	"github.com/maauso/kling-panel/internal/credential"
	"github.com/maauso/kling-panel/internal/fetcher"
	"github.com/maauso/kling-panel/internal/generator"
	"github.com/maauso/kling-panel/internal/job"
	"github.com/maauso/kling-panel/internal/media"
	"github.com/maauso/kling-panel/internal/orchestrator"
	"github.com/maauso/kling-panel/internal/poller"
	"github.com/maauso/kling-panel/internal/replicate"
	"github.com/maauso/kling-panel/internal/storage"
)

// Pipeline holds the orchestration stack shared by the server and the CLI.
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Storage      storage.Storage
	DownloadDir  string
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	*Pipeline
	Credentials credential.Store
	Service     *job.Service
}

// NewPipeline wires the Replicate client, frame extraction, poller, fetcher
// and orchestrator. Partial downloads left by an interrupted run are removed.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	downloadDir := cfg.ResolvedDownloadDir()

	store, err := initStorage(cfg, downloadDir, logger)
	if err != nil {
		return nil, err
	}

	if n, err := store.CleanupPartials(ctx, downloadDir); err != nil {
		logger.Warn("failed to clean partial downloads",
			slog.String("dir", downloadDir),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		logger.Info("removed partial downloads",
			slog.String("dir", downloadDir),
			slog.Int("count", n),
		)
	}

	api, err := replicate.NewClient(cfg.ReplicateModel,
		replicate.WithBaseURL(cfg.ReplicateBaseURL),
		replicate.WithTimeout(cfg.HTTPTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create Replicate client: %w", err)
	}

	gen := generator.NewClient(api,
		generator.WithMedia(media.NewFFmpegProcessor(cfg.FFmpegPath)),
		generator.WithDefaultMode(cfg.KlingMode),
		generator.WithLogger(logger),
	)

	p := poller.New(gen, poller.Options{
		Interval:               cfg.PollInterval,
		Timeout:                cfg.PollTimeout,
		MaxConsecutiveFailures: cfg.MaxPollFailures,
	}, poller.WithLogger(logger))

	f := fetcher.New(store, fetcher.WithLogger(logger))

	orch := orchestrator.New(gen, p, f,
		orchestrator.WithDestDir(downloadDir),
		orchestrator.WithLogger(logger),
	)

	return &Pipeline{
		Orchestrator: orch,
		Storage:      store,
		DownloadDir:  downloadDir,
	}, nil
}

// NewDependencies creates and initializes all dependencies for the server.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	pipeline, err := NewPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	creds, err := NewCredentialStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := job.NewService(
		job.NewMemoryRepository(),
		pipeline.Orchestrator,
		creds,
		pipeline.Storage,
		cfg.MaxActiveGenerations,
		logger,
	)

	return &Dependencies{
		Pipeline:    pipeline,
		Credentials: creds,
		Service:     svc,
	}, nil
}

// NewCredentialStore picks the credential store. With CREDENTIAL_FILE the key
// persists across restarts; REPLICATE_API_TOKEN seeds an empty store.
func NewCredentialStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credential.Store, error) {
	if cfg.CredentialFile == "" {
		logger.Info("credential store configured", slog.String("kind", "memory"))
		return credential.NewMemoryStore(cfg.ReplicateAPIToken), nil
	}

	store := credential.NewFileStore(cfg.CredentialFile)
	if cfg.ReplicateAPIToken != "" {
		_, err := store.Get(ctx)
		switch {
		case errors.Is(err, credential.ErrNotConfigured):
			if err := store.Set(ctx, cfg.ReplicateAPIToken); err != nil {
				return nil, fmt.Errorf("seed credential file: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("read credential file: %w", err)
		}
	}

	logger.Info("credential store configured",
		slog.String("kind", "file"),
		slog.String("path", store.Path()),
	)
	return store, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, downloadDir string, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(downloadDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("download_dir", downloadDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("download_dir", downloadDir),
	)
	return localStore, nil
}
