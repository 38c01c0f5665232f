// Package server builds the collector's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/api"
	"github.com/JakeFAU/insights-collector/internal/archive"
	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/config"
	"github.com/JakeFAU/insights-collector/internal/discovery"
	"github.com/JakeFAU/insights-collector/internal/dispatcher"
	"github.com/JakeFAU/insights-collector/internal/fanin"
	collyfetcher "github.com/JakeFAU/insights-collector/internal/fetcher/colly"
	"github.com/JakeFAU/insights-collector/internal/hash/sha256"
	"github.com/JakeFAU/insights-collector/internal/id/uuid"
	"github.com/JakeFAU/insights-collector/internal/notify"
	"github.com/JakeFAU/insights-collector/internal/policy/ratelimit"
	"github.com/JakeFAU/insights-collector/internal/policy/retry"
	"github.com/JakeFAU/insights-collector/internal/progress"
	progresssinks "github.com/JakeFAU/insights-collector/internal/progress/sinks"
	"github.com/JakeFAU/insights-collector/internal/provider/brightdata"
	memorypublisher "github.com/JakeFAU/insights-collector/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/insights-collector/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/insights-collector/internal/queue/memory"
	queueredis "github.com/JakeFAU/insights-collector/internal/queue/redis"
	"github.com/JakeFAU/insights-collector/internal/scraper"
	gcsstorage "github.com/JakeFAU/insights-collector/internal/storage/gcs"
	localstorage "github.com/JakeFAU/insights-collector/internal/storage/local"
	memorystorage "github.com/JakeFAU/insights-collector/internal/storage/memory"
	pgstore "github.com/JakeFAU/insights-collector/internal/storage/postgres"
	redisstorage "github.com/JakeFAU/insights-collector/internal/storage/redis"
	"github.com/JakeFAU/insights-collector/internal/store"
	"github.com/JakeFAU/insights-collector/internal/wait"
	"github.com/JakeFAU/insights-collector/internal/webhook"
	"github.com/JakeFAU/insights-collector/internal/worker"
)

// App owns the running components and everything that needs closing.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	handler   http.Handler
	dispatch  *dispatcher.Dispatcher
	memQueue  *queuememory.Queue
	hub       *progress.Hub
	redis     *goredis.Client
	jobRuns   *pgstore.JobStore
	pubsub    *gcppublisher.Publisher
	gcs       *gcsstorage.BlobStore
	readiness []api.Checker
}

// coordination groups the stores shared between workers and webhook intake.
type coordination struct {
	correlations collector.CorrelationStore
	jobState     collector.JobStateStore
	results      collector.ResultQueue
	queue        collector.Queue
}

// Build wires every component from cfg. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	clock := system.New()

	coord, err := a.setupCoordination(ctx, clock)
	if err != nil {
		return err
	}
	repo, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	emitter := a.setupProgress(ctx, repo)
	finalizers, err := a.setupFinalizers(ctx, repo)
	if err != nil {
		return err
	}

	coordinator := fanin.New(coord.jobState,
		fanin.WithEmitter(emitter),
		fanin.WithFinalizers(finalizers...),
		fanin.WithClock(clock),
		fanin.WithLogger(a.logger),
		fanin.WithStateTTL(cfg.Jobs.StateTTL),
	)

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	archiver, err := archive.New(blobs, sha256.New(), archive.Config{
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	})
	if err != nil {
		return fmt.Errorf("archiver init failed: %w", err)
	}

	pageScraper := scraper.New(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Scraper.UserAgent,
			RespectRobots: cfg.Scraper.RespectRobots,
			Timeout:       cfg.Scraper.Timeout,
		}),
		archiver,
		ratelimit.New(ratelimit.Config{RPS: cfg.Scraper.RPS, Burst: cfg.Scraper.Burst}),
		scraper.Config{Parallelism: cfg.Scraper.Parallelism, MaxPages: cfg.Scraper.MaxPages},
		a.logger,
	)

	modes, err := cfg.SourceModes()
	if err != nil {
		return err
	}
	deps := worker.Deps{
		Queue:        coord.queue,
		Reporter:     coordinator,
		Scraper:      pageScraper,
		Correlations: coord.correlations,
		Discoverers: map[collector.SourceType]collector.Discoverer{
			collector.SourceAmazon: discovery.NewAmazon(a.logger),
		},
		Retry:   retry.New(retry.Config(cfg.Retry)),
		Limiter: ratelimit.New(ratelimit.Config{RPS: cfg.BrightData.RPS, Burst: cfg.BrightData.Burst}),
		Emitter: emitter,
		Clock:   clock,
	}
	intakeDeps := webhook.Deps{
		Correlations: coord.correlations,
		Reporter:     coordinator,
		Archiver:     archiver,
	}
	if cfg.HasProviderSources() {
		client, err := brightdata.New(brightdata.Config{
			APIBase:  cfg.BrightData.APIBase,
			APIToken: cfg.BrightData.APIToken,
			Timeout:  cfg.BrightData.Timeout,
			Datasets: datasets(cfg),
		}, nil)
		if err != nil {
			return fmt.Errorf("provider client init failed: %w", err)
		}
		deps.Provider = client
		intakeDeps.Snapshots = client
		a.logger.Info("provider client initialized", zap.Int("datasets", len(cfg.Sources)))
	}

	workerCfg := worker.Config{
		Modes:           modes,
		CallbackBaseURL: cfg.CallbackBaseURL(),
		SharedSecret:    cfg.Webhook.SharedSecret,
		CorrelationTTL:  cfg.Webhook.CorrelationTTL,
		TaskTimeout:     cfg.Jobs.TaskTimeout,
	}
	workers := make([]*worker.Worker, 0, cfg.Jobs.Concurrency)
	for i := range cfg.Jobs.Concurrency {
		workers = append(workers, worker.New(deps, workerCfg, a.logger.With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(coord.queue, coordinator, uuid.New(), clock, workers, a.logger)

	waiter := wait.New(coord.results, cfg.Webhook.ResultTTL)
	intakeDeps.Results = waiter
	intake := webhook.New(cfg.Webhook.SharedSecret, intakeDeps, a.logger)

	apiDeps := api.Deps{
		Jobs:      a.dispatch,
		State:     coordinator,
		Webhooks:  intake,
		Waiter:    waiter,
		Readiness: a.readiness,
	}
	if repo != nil {
		apiDeps.Repo = repo
	}
	a.handler = api.NewServer(apiDeps, api.Config{
		APIPrefix:   cfg.Server.APIPrefix,
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		MaxWait:     cfg.Server.MaxWait,
	}, a.logger).Handler()
	return nil
}

func datasets(cfg config.Config) map[collector.SourceType]brightdata.Dataset {
	out := make(map[collector.SourceType]brightdata.Dataset, len(cfg.Sources))
	for name, src := range cfg.Sources {
		if src.DatasetID == "" {
			continue
		}
		out[collector.SourceType(name)] = brightdata.Dataset{ID: src.DatasetID, DiscoverByKeyword: src.DiscoverByKeyword}
	}
	return out
}

func (a *App) setupCoordination(ctx context.Context, clock collector.Clock) (coordination, error) {
	cfg := a.cfg
	var coord coordination
	if cfg.Jobs.Backend == "redis" || cfg.Jobs.Queue == "redis" {
		client, err := redisstorage.Connect(ctx, redisstorage.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return coord, fmt.Errorf("redis init failed: %w", err)
		}
		a.redis = client
		a.readiness = append(a.readiness, api.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		a.logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Jobs.Backend == "redis" {
		coord.correlations = redisstorage.NewCorrelationStore(a.redis)
		coord.jobState = redisstorage.NewJobStateStore(a.redis)
		coord.results = redisstorage.NewResultQueue(a.redis)
	} else {
		a.logger.Warn("using in-memory job state; webhooks must reach this instance")
		coord.correlations = memorystorage.NewCorrelationStore(clock)
		coord.jobState = memorystorage.NewJobStateStore(clock)
		coord.results = memorystorage.NewResultQueue(clock)
	}

	if cfg.Jobs.Queue == "redis" {
		coord.queue = queueredis.NewQueue(a.redis, "")
	} else {
		a.memQueue = queuememory.NewQueue(cfg.Jobs.QueueDepth)
		coord.queue = a.memQueue
	}
	return coord, nil
}

func (a *App) setupDatabase(ctx context.Context) (store.JobRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured; job history endpoints disabled")
		return nil, nil
	}
	jobRuns, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	a.jobRuns = jobRuns
	a.readiness = append(a.readiness, api.Checker{Name: "postgres", Check: jobRuns.Ping})
	a.logger.Info("job store initialized")
	return jobRuns, nil
}

func (a *App) setupProgress(ctx context.Context, repo store.JobRepository) progress.Emitter {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}
	}
	var sinkList []progress.Sink
	if repo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(repo, a.logger))
	}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger))
	}
	if promSink, err := progresssinks.NewPrometheusSink(nil); err != nil {
		a.logger.Warn("prometheus progress sink disabled", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if a.redis != nil && cfg.ChannelPrefix != "" {
		sinkList = append(sinkList, progresssinks.NewRedisSink(a.redis, cfg.ChannelPrefix))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMS) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMS) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         a.logger,
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return a.hub
}

func (a *App) setupFinalizers(ctx context.Context, repo store.JobRepository) ([]collector.Finalizer, error) {
	cfg := a.cfg
	var finalizers []collector.Finalizer
	if repo != nil {
		finalizers = append(finalizers, fanin.NewRepositoryFinalizer(repo))
	}

	switch {
	case cfg.PubSub.TopicName == "":
		a.logger.Info("no completion topic configured")
	case cfg.PubSub.ProjectID == "":
		a.logger.Warn("no pubsub project configured, completions go to the in-memory publisher")
		finalizers = append(finalizers, fanin.NewPublisherFinalizer(memorypublisher.New(), cfg.PubSub.TopicName))
	default:
		pub, err := gcppublisher.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.pubsub = pub
		finalizers = append(finalizers, fanin.NewPublisherFinalizer(pub, cfg.PubSub.TopicName))
		a.logger.Info("pubsub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName))
	}

	if cfg.Notify.CompletionURL != "" {
		notifier, err := notify.New(notify.Config{
			URL:     cfg.Notify.CompletionURL,
			Secret:  cfg.Notify.Secret,
			Timeout: cfg.Notify.Timeout,
		}, nil, retry.New(retry.Config(cfg.Retry)))
		if err != nil {
			return nil, fmt.Errorf("completion webhook init failed: %w", err)
		}
		finalizers = append(finalizers, notifier)
	}
	return finalizers, nil
}

func (a *App) setupStorage(ctx context.Context) (collector.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		blobs, err := gcsstorage.Connect(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = blobs
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves HTTP and runs the workers until ctx ends, then drains.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := a.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown grace elapsed")
	}
	a.closeInfrastructure(shutdownCtx)
	a.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// closeInfrastructure releases clients in reverse dependency order.
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.jobRuns != nil {
		a.jobRuns.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}
