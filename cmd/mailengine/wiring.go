package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailengine/internal/config"
	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/pool"
	"github.com/ignite/mailengine/internal/repository/postgres"
	"github.com/ignite/mailengine/internal/service/sending"
	"github.com/ignite/mailengine/internal/storage"
	"github.com/ignite/mailengine/internal/worker"
)

// engineRuntime holds everything a command needs to send.
type engineRuntime struct {
	cfg      *config.Config
	pool     *pool.Manager
	loader   storage.Loader
	engine   *sending.Service
	settings sending.SettingsSource
	db       *sql.DB
}

func newEngineRuntime(ctx context.Context, cfg *config.Config) (*engineRuntime, error) {
	settings, db, err := openSettingsSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loader := newAttachmentLoader(ctx, cfg.Storage)
	p := newPool(cfg.Pool)
	engine, err := sending.NewService(newAdapters(cfg.Providers, p, loader))
	if err != nil {
		p.Close()
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	return &engineRuntime{
		cfg:      cfg,
		pool:     p,
		loader:   loader,
		engine:   engine,
		settings: settings,
		db:       db,
	}, nil
}

// Close releases pooled transports and the settings database.
func (rt *engineRuntime) Close() {
	if err := rt.pool.Close(); err != nil {
		logger.Warn("[Main] pool close", "error", err)
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

func newPool(c config.PoolConfig) *pool.Manager {
	return pool.NewManager(pool.Options{
		MaxConnections: c.MaxConnections,
		MaxMessages:    c.MaxMessages,
		RateLimit:      c.RateLimit,
		RateDelta:      c.RateDelta(),
		IdleTimeout:    c.IdleTimeout(),
		SweepInterval:  c.SweepInterval(),
		Timeouts: pool.Timeouts{
			Dial:     time.Duration(c.DialTimeoutSeconds) * time.Second,
			Greeting: time.Duration(c.GreetTimeoutSeconds) * time.Second,
			Socket:   time.Duration(c.SocketTimeoutSecs) * time.Second,
		},
	})
}

// newAttachmentLoader reads local paths under the allowed root and s3://
// paths when AWS credentials load.
func newAttachmentLoader(ctx context.Context, c config.StorageConfig) storage.Loader {
	files := storage.FileLoader{Root: c.AllowedRoot}
	s3Loader, err := storage.NewS3Loader(ctx, c.AWSRegion, c.GetAWSProfile())
	if err != nil {
		logger.Warn("[Main] S3 attachments disabled", "error", err)
		return storage.NewMux(files, nil)
	}
	return storage.NewMux(files, s3Loader)
}

// newAdapters registers one adapter per provider kind. Both SMTP kinds
// share the pooled sender.
func newAdapters(c config.ProvidersConfig, p *pool.Manager, loader storage.Loader) map[domain.ProviderKind]sending.Adapter {
	httpClient := &http.Client{Timeout: c.Timeout()}
	httpOpts := func(baseURL string) worker.HTTPSenderOptions {
		return worker.HTTPSenderOptions{
			BaseURL:    baseURL,
			HTTPClient: httpClient,
			MaxRetries: c.MaxRetries,
			Loader:     loader,
		}
	}

	smtpSender := worker.NewSMTPSender(p, loader)
	return map[domain.ProviderKind]sending.Adapter{
		domain.ProviderSMTP:    smtpSender,
		domain.ProviderSandbox: smtpSender,
		domain.ProviderGraph: worker.NewGraphSender(worker.GraphOptions{
			Authority:   c.GraphAuthority,
			BaseURL:     c.GraphBaseURL,
			HTTPClient:  httpClient,
			MaxRetries:  c.MaxRetries,
			Concurrency: c.BatchConcurrency,
			Loader:      loader,
		}),
		domain.ProviderResend: worker.NewResendSender(httpOpts(c.ResendBaseURL)),
		domain.ProviderBrevo:  worker.NewBrevoSender(httpOpts(c.BrevoBaseURL)),
		domain.ProviderSES:    worker.NewSESSender(worker.NewSESClientFactory(c.SESEndpoint), loader, c.BatchConcurrency),
	}
}

// fileSettings serves one YAML settings document for every organisation.
type fileSettings struct {
	path string
}

func (f fileSettings) Settings(ctx context.Context, orgID string) (*domain.Settings, error) {
	s, err := config.LoadSettingsFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.Settings{}, nil
	}
	return s, err
}

func openSettingsSource(ctx context.Context, cfg *config.Config) (sending.SettingsSource, *sql.DB, error) {
	switch cfg.Settings.Source {
	case "postgres":
		if cfg.Database.URL == "" {
			return nil, nil, errors.New("settings source is postgres but database.url is empty")
		}
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("[Main] settings from PostgreSQL", "org_id", cfg.Settings.OrgID)
		return postgres.NewSettingsRepo(db), db, nil
	case "file", "":
		logger.Info("[Main] settings from file", "path", cfg.Settings.Path)
		return fileSettings{path: cfg.Settings.Path}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown settings source %q", cfg.Settings.Source)
	}
}

func openRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// bulkRuntime is the Redis side of bulk test runs.
type bulkRuntime struct {
	client   redis.UniversalClient
	queue    *worker.BulkQueue
	enqueuer *worker.BulkEnqueuer
}

func newBulkRuntime(ctx context.Context, cfg *config.Config) (*bulkRuntime, error) {
	client, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	queue := worker.NewBulkQueue(client, cfg.Redis.KeyPrefix)
	window := time.Duration(cfg.Bulk.DefaultWindowMins) * time.Minute
	return &bulkRuntime{
		client:   client,
		queue:    queue,
		enqueuer: worker.NewBulkEnqueuer(queue, window, cfg.Bulk.TestRecipient),
	}, nil
}

// startWorkers runs the bulk processor and lease recovery until ctx ends.
// Both are tracked on wg so callers can drain them before closing Redis.
func (b *bulkRuntime) startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, engine worker.BulkEngine) {
	limiter := worker.NewRateLimiter(b.client, cfg.Redis.KeyPrefix, nil).WithPerMinute(cfg.Bulk.ProviderRatePerMin)
	processor := worker.NewBulkProcessor(b.queue, b.client, engine, limiter, worker.BulkProcessorOptions{
		Workers:      cfg.Bulk.Workers,
		PollInterval: cfg.Bulk.PollInterval(),
		Lease:        cfg.Bulk.Lease(),
	})
	recovery := worker.NewQueueRecoveryWorker(b.queue, cfg.Bulk.RecoveryInterval())

	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		recovery.Start(ctx)
	}()
	logger.Info("[Main] bulk workers started", "workers", cfg.Bulk.Workers, "rate_per_minute", cfg.Bulk.ProviderRatePerMin)
}

func (b *bulkRuntime) Close() {
	b.client.Close()
}
