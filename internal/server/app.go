// Package server builds the support router's dependency graph from config and
// runs the HTTP API, the worker pool, or both.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/agent"
	"github.com/JakeFAU/nmkr-support-router/internal/api"
	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/crawl"
	"github.com/JakeFAU/nmkr-support-router/internal/crawl/firecrawl"
	"github.com/JakeFAU/nmkr-support-router/internal/crawl/spider"
	"github.com/JakeFAU/nmkr-support-router/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/nmkr-support-router/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/nmkr-support-router/internal/fetcher/headless"
	"github.com/JakeFAU/nmkr-support-router/internal/hash/sha256"
	"github.com/JakeFAU/nmkr-support-router/internal/headless/detector"
	"github.com/JakeFAU/nmkr-support-router/internal/id/uuid"
	"github.com/JakeFAU/nmkr-support-router/internal/llm"
	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/policy/ratelimit"
	"github.com/JakeFAU/nmkr-support-router/internal/policy/simple"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	progresssinks "github.com/JakeFAU/nmkr-support-router/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/nmkr-support-router/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/nmkr-support-router/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/nmkr-support-router/internal/publisher/redis"
	queuememory "github.com/JakeFAU/nmkr-support-router/internal/queue/memory"
	queueredis "github.com/JakeFAU/nmkr-support-router/internal/queue/redis"
	gcsstorage "github.com/JakeFAU/nmkr-support-router/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nmkr-support-router/internal/storage/local"
	memorystorage "github.com/JakeFAU/nmkr-support-router/internal/storage/memory"
	pgstore "github.com/JakeFAU/nmkr-support-router/internal/storage/postgres"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
	"github.com/JakeFAU/nmkr-support-router/internal/telemetry"
	"github.com/JakeFAU/nmkr-support-router/internal/worker"
)

// Roles selects which halves of the service a process runs.
type Roles struct {
	API     bool
	Workers bool
}

// Overrides replace collaborators Build would otherwise construct. Tests use
// them to avoid real model providers.
type Overrides struct {
	Generator  llm.Generator
	Researcher crawl.Researcher
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	roles  Roles
	logger *zap.Logger
	clock  support.Clock

	jobs  support.JobStore
	queue support.Queue
	dedup support.Deduplicator

	redisClient     *goredis.Client
	memQueue        *queuememory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcs             *gcsstorage.BlobStore
	transcripts     support.TranscriptStore
	headless        *headlessfetcher.Fetcher
	progressHub     *progress.Hub
	emitter         progress.Emitter

	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg config.Config, roles Roles, logger *zap.Logger, ov Overrides) (*App, error) {
	if !roles.API && !roles.Workers {
		return nil, errors.New("at least one of api or workers must run")
	}
	if cfg.Queue.Backend == "memory" && !(roles.API && roles.Workers) {
		return nil, errors.New("queue.backend memory only works when api and workers share a process")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		roles:   roles,
		logger:  logger,
		clock:   system.New(),
		emitter: progress.NopEmitter{},
	}
	built := false
	defer func() {
		if built {
			return
		}
		a.closeInfrastructure(context.Background())
		if a.tracerShutdown != nil {
			_ = a.tracerShutdown(context.Background())
		}
	}()

	tp, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.logger.Info("building application dependencies",
		zap.Bool("api", roles.API),
		zap.Bool("workers", roles.Workers),
		zap.String("queue_backend", cfg.Queue.Backend),
	)
	if err := a.setupQueue(); err != nil {
		return nil, err
	}

	if roles.Workers {
		if err := a.setupWorkers(ctx, ov); err != nil {
			return nil, err
		}
	}
	if roles.API {
		var enqueuer api.Enqueuer = a.queue
		if a.dispatch != nil {
			enqueuer = a.dispatch
		}
		a.apiServer = api.NewServer(api.Deps{
			Jobs:   a.jobs,
			Queue:  enqueuer,
			Dedup:  a.dedup,
			IDGen:  uuid.New(),
			Clock:  a.clock,
			Logger: logger.Named("api"),
		}, cfg)
	}
	built = true
	return a, nil
}

func (a *App) redis() (*goredis.Client, error) {
	if a.redisClient != nil {
		return a.redisClient, nil
	}
	client, err := queueredis.NewClient(
		a.cfg.Redis.URL,
		time.Duration(a.cfg.Redis.DialTimeoutSeconds)*time.Second,
		time.Duration(a.cfg.Redis.ReadTimeoutSeconds)*time.Second,
		time.Duration(a.cfg.Redis.WriteTimeoutSeconds)*time.Second,
		a.cfg.Redis.PoolSize,
	)
	if err != nil {
		return nil, fmt.Errorf("redis client init failed: %w", err)
	}
	a.redisClient = client
	return client, nil
}

func (a *App) setupQueue() error {
	switch a.cfg.Queue.Backend {
	case "memory":
		store := memorystorage.NewJobStore(memorystorage.WithDedupTTL(a.cfg.DedupTTL()))
		a.memQueue = queuememory.NewQueue(a.cfg.Queue.Depth)
		a.jobs, a.queue, a.dedup = store, a.memQueue, store
		a.logger.Warn("using in-memory queue; jobs do not survive restarts")
	default:
		client, err := a.redis()
		if err != nil {
			return err
		}
		store, err := queueredis.New(client, queueredis.Options{
			Prefix:       a.cfg.Queue.Name,
			ResultTTL:    a.cfg.ResultTTL(),
			DedupTTL:     a.cfg.DedupTTL(),
			BlockTimeout: time.Duration(a.cfg.Queue.BlockTimeoutMillis) * time.Millisecond,
			Clock:        a.clock,
		})
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		a.jobs, a.queue, a.dedup = store, store, store
		a.logger.Info("using redis queue", zap.String("queue", a.cfg.Queue.Name))
	}
	return nil
}

func (a *App) setupWorkers(ctx context.Context, ov Overrides) error {
	a.setupProgress(ctx)

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}

	gen := ov.Generator
	if gen == nil {
		model, err := llm.New(a.cfg.LLM)
		if err != nil {
			return fmt.Errorf("llm init failed: %w", err)
		}
		a.logger.Info("llm initialized", zap.String("model", model.Name()), zap.String("provider", llm.ProviderFor(a.cfg.LLM)))
		gen = model
	}
	research := ov.Researcher
	if research == nil {
		research, err = a.setupResearch(gen, blobs)
		if err != nil {
			return err
		}
	}

	cat, err := catalog.Load(a.cfg.Catalog.LinksPath, a.cfg.Catalog.DocsPath)
	if err != nil {
		return fmt.Errorf("catalog load failed: %w", err)
	}
	pipeline := agent.New(gen, research, cat,
		agent.WithEmitter(a.emitter),
		agent.WithClock(a.clock),
		agent.WithLogger(a.logger.Named("agent")),
	)

	announcer := worker.NewAnnouncer(publisher, a.transcripts, a.cfg.Publisher.Topic, a.logger.Named("announcer"))
	workerCfg := worker.Config{
		PipelineTimeout: a.cfg.PipelineTimeout(),
		Lease:           a.cfg.Lease(),
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Duration("pipeline_timeout", workerCfg.PipelineTimeout),
		zap.Duration("lease", workerCfg.Lease),
		zap.Int("max_attempts", a.cfg.Worker.MaxAttempts),
	)

	runners := make([]dispatcher.Runner, 0, a.cfg.Worker.Concurrency+1)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		runners = append(runners, worker.New(
			i,
			a.queue,
			a.jobs,
			pipeline,
			announcer,
			a.clock,
			a.emitter,
			workerCfg,
			a.logger.Named("worker"),
		))
	}
	runners = append(runners, worker.NewReaper(
		a.jobs,
		a.queue,
		announcer,
		a.clock,
		a.emitter,
		a.cfg.ReapInterval(),
		a.cfg.Worker.MaxAttempts,
		a.logger.Named("reaper"),
	))
	a.dispatch = dispatcher.New(a.queue, runners)
	return nil
}

func (a *App) setupResearch(gen llm.Generator, blobs support.BlobStore) (crawl.Researcher, error) {
	provider, err := a.setupProvider()
	if err != nil {
		return nil, err
	}
	summarizer := crawl.NewSummarizer(gen, a.cfg.LLM.SummaryMaxTokens, a.cfg.LLM.SummaryTemperature, a.cfg.Crawl.MaxTextChars)
	opts := []crawl.ToolOption{
		crawl.WithEmitter(a.emitter),
		crawl.WithClock(a.clock),
		crawl.WithLogger(a.logger.Named("crawl")),
	}
	if blobs != nil {
		opts = append(opts, crawl.WithSnapshots(blobs, sha256.New()))
	}
	a.logger.Info("crawl tool initialized",
		zap.String("provider", provider.Name()),
		zap.Int("max_pages", a.cfg.Crawl.MaxPages),
		zap.Int("max_depth", a.cfg.Crawl.MaxDepth),
		zap.Bool("snapshots", blobs != nil),
	)
	return crawl.NewTool(provider, summarizer, crawl.Config{
		MaxPages:       a.cfg.Crawl.MaxPages,
		MaxDepth:       a.cfg.Crawl.MaxDepth,
		MaxURLs:        a.cfg.Crawl.MaxURLs,
		SnapshotPrefix: a.cfg.Storage.Prefix,
		ContentType:    a.cfg.Storage.ContentType,
	}, opts...), nil
}

func (a *App) setupProvider() (crawl.Provider, error) {
	switch name := crawl.ResolveProvider(a.cfg.Crawl); name {
	case crawl.ProviderFirecrawl:
		client, err := firecrawl.New(a.cfg.Crawl.FirecrawlAPIKey)
		if err != nil {
			return nil, fmt.Errorf("firecrawl init failed: %w", err)
		}
		return client, nil
	case crawl.ProviderSpider:
		client, err := spider.New(a.cfg.Crawl.SpiderAPIKey)
		if err != nil {
			return nil, fmt.Errorf("spider init failed: %w", err)
		}
		return client, nil
	default:
		return a.setupSiteCrawler()
	}
}

func (a *App) setupSiteCrawler() (crawl.Provider, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawl.UserAgent,
		RespectRobots: true,
		Timeout:       time.Duration(a.cfg.Crawl.TimeoutSeconds) * time.Second,
	})
	limiter := ratelimit.New(ratelimit.Config{
		Delay:        a.cfg.CrawlDelay(),
		DefaultBurst: a.cfg.RateLimit.DefaultBurst,
	})
	opts := []crawl.SiteOption{crawl.WithSiteLogger(a.logger.Named("site_crawler"))}
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = headless
		opts = append(opts, crawl.WithHeadless(headless, detector.NewHeuristic(a.cfg.Headless.PromotionThresh)))
		a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	return crawl.NewSiteCrawler(fetcher, simple.New(), limiter, opts...), nil
}

func (a *App) setupStorage(ctx context.Context) (support.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	case "memory":
		a.logger.Info("using in-memory snapshot storage")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("crawl snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, transcripts will not be archived")
		return nil
	}
	store, err := pgstore.NewTranscriptStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.TranscriptTable,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("transcript store init failed: %w", err)
	}
	a.transcripts = store
	a.logger.Info("transcript store initialized", zap.String("table", a.cfg.Database.TranscriptTable))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (support.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "pubsub":
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return gcppublisher.New(a.pubsubPublisher), nil
	case "redis":
		client, err := a.redis()
		if err != nil {
			return nil, err
		}
		a.logger.Info("redis publisher initialized", zap.String("channel", a.cfg.Publisher.Topic))
		return redispublisher.New(client), nil
	default:
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	}
}

func (a *App) setupProgress(ctx context.Context) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return
	}
	var sinkList []progress.Sink
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		a.logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatch,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.emitter = a.progressHub
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
}

// Handler exposes the API router. It is nil when the API role is off.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// Run starts the configured roles and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	dispatchDone := make(chan struct{})
	if a.dispatch != nil {
		go func() {
			defer close(dispatchDone)
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
			a.dispatch.Run(ctx)
		}()
	} else {
		close(dispatchDone)
	}

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still busy at shutdown; leases will expire")
	}
	return a.Close(shutdownCtx)
}

// Close releases every resource Build acquired.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.transcripts != nil {
		if err := a.transcripts.Close(); err != nil {
			a.logger.Warn("transcript store close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}
