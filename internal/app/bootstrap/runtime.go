package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/api/router"
	"github.com/wolfman30/medicare-plus/internal/appointments"
	"github.com/wolfman30/medicare-plus/internal/assistant"
	"github.com/wolfman30/medicare-plus/internal/cache"
	appconfig "github.com/wolfman30/medicare-plus/internal/config"
	"github.com/wolfman30/medicare-plus/internal/directory"
	httpmiddleware "github.com/wolfman30/medicare-plus/internal/http/middleware"
	"github.com/wolfman30/medicare-plus/internal/invalidation"
	"github.com/wolfman30/medicare-plus/internal/notify"
	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/internal/realtime"
	"github.com/wolfman30/medicare-plus/internal/reminders"
	"github.com/wolfman30/medicare-plus/internal/reports"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/internal/tasks"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

const (
	chatRatePerSecond = 0.5
	chatBurst         = 10
	limiterIdle       = 10 * time.Minute
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, caching disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Runtime owns every long-lived dependency of the API process.
type Runtime struct {
	cfg    *appconfig.Config
	logger *logging.Logger

	pool     *pgxpool.Pool
	pgFeed   *store.PostgresChangeFeed
	memory   *store.MemoryStore
	store    store.Store
	redis    *redis.Client
	registry *prometheus.Registry

	invalidator *invalidation.Invalidator
	tasks       *tasks.Runner
	hub         *realtime.Hub
	answerer    assistant.Answerer
	closers     []func() error
	reminders   *reminders.Worker
	limiter     *httpmiddleware.RateLimiter
	handler     http.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options lets callers replace externally provisioned pieces.
type Options struct {
	// Redis, when set, is used instead of dialing cfg.RedisAddr.
	Redis *redis.Client
	// Answerer, when set, skips provider construction.
	Answerer assistant.Answerer
	// Email, when set, skips provider construction.
	Email notify.EmailSender
}

// New builds the runtime. Nothing runs until Start.
func New(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	rt.redis = opts.Redis
	if rt.redis == nil {
		rt.redis = BuildRedisClient(ctx, cfg, logger, true)
	}
	var c cache.Cache
	if rt.redis != nil {
		c = cache.NewRedisCache(rt.redis)
		rt.invalidator = invalidation.New(rt.feed(), c, logger, metrics.NewInvalidationMetrics(rt.registry))
	}
	readThrough := cache.NewReadThrough(c, logger, metrics.NewCacheMetrics(rt.registry))

	rt.tasks = tasks.NewRunner(tasks.Config{
		Workers:   cfg.TaskWorkers,
		QueueSize: cfg.TaskQueueSize,
		Logger:    logger,
		Metrics:   metrics.NewTaskMetrics(rt.registry),
	})
	rt.hub = realtime.NewHub(logger)
	origins := httpmiddleware.NewOriginPolicy(cfg.CORSAllowedOrigins)

	rt.answerer = opts.Answerer
	if rt.answerer == nil {
		answerer, err := rt.buildAnswerer(ctx)
		if err != nil {
			rt.release()
			return nil, err
		}
		rt.answerer = answerer
	}

	email := opts.Email
	if email == nil {
		sender, err := BuildEmailSender(ctx, cfg, logger)
		if err != nil {
			rt.release()
			return nil, err
		}
		email = sender
	}
	notifier := notify.NewNotifier(email, logger)

	loc := cfg.Location()
	apptSvc := appointments.NewService(appointments.ServiceConfig{
		Store:      rt.store,
		Allocator:  appointments.NewAllocator(rt.store, readThrough, cfg.SlotCapacity),
		Location:   loc,
		DefaultFee: cfg.DefaultAppointmentFee,
		Background: rt.tasks,
		Notifier:   notifier,
		Emitter:    rt.hub,
		Logger:     logger,
		Metrics:    metrics.NewAppointmentMetrics(rt.registry),
	})
	chat := assistant.NewChatService(assistant.ChatConfig{
		Store:      rt.store,
		Assembler:  assistant.NewAssembler(rt.store, loc, logger),
		Answerer:   rt.answerer,
		Background: rt.tasks,
		Timeout:    cfg.AssistantTimeout,
		Logger:     logger,
	})
	rt.reminders = reminders.NewWorker(rt.store, notifier, loc, logger, metrics.NewReminderMetrics(rt.registry))
	rt.limiter = httpmiddleware.NewRateLimiter(chatRatePerSecond, chatBurst)

	rt.handler = router.New(&router.Config{
		Logger:       logger,
		Appointments: appointments.NewHandler(apptSvc, logger),
		Directory:    directory.NewHandler(directory.NewService(rt.store, readThrough, logger), logger),
		Reports:      reports.NewHandler(reports.NewService(rt.store, readThrough, rt.tasks, rt.hub, logger), logger),
		Chat:         assistant.NewHandler(chat, logger),
		Reminders:    reminders.NewHandler(rt.reminders, nil, logger),
		Realtime:     realtime.NewHandler(rt.hub, origins.Allowed),
		JWTSecret:    cfg.JWTSecret,
		Accounts:     accounts.NewDirectory(rt.store, readThrough),
		Origins:      origins,
		ChatLimiter:  rt.limiter,
		HealthChecks: rt.healthChecks(),
		MetricsHandler: promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{
			Registry: rt.registry,
		}),
	})
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	if rt.cfg.UseMemoryStore || strings.TrimSpace(rt.cfg.DatabaseURL) == "" {
		rt.logger.Warn("using in-memory store, data will not survive a restart")
		rt.memory = store.NewMemoryStore()
		rt.store = rt.memory
		return nil
	}
	pool, err := pgxpool.New(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	rt.pool = pool
	rt.store = store.NewPostgresStore(pool)
	rt.pgFeed = store.NewPostgresChangeFeed(pool, rt.logger)
	rt.logger.Info("connected to postgres")
	return nil
}

func (rt *Runtime) feed() store.ChangeFeed {
	if rt.pgFeed != nil {
		return rt.pgFeed
	}
	return rt.memory
}

func (rt *Runtime) buildAnswerer(ctx context.Context) (assistant.Answerer, error) {
	var chain []assistant.Answerer
	if key := strings.TrimSpace(rt.cfg.GeminiAPIKey); key != "" {
		gemini, err := assistant.NewGeminiAnswerer(ctx, key, rt.cfg.GeminiModelID, rt.cfg.GeminiFallbackModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini: %w", err)
		}
		rt.closers = append(rt.closers, gemini.Close)
		chain = append(chain, gemini)
	}
	if model := strings.TrimSpace(rt.cfg.BedrockModelID); model != "" {
		bedrock, err := BuildBedrockAnswerer(ctx, rt.cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, bedrock)
	}

	m := metrics.NewAssistantMetrics(rt.registry)
	switch len(chain) {
	case 0:
		rt.logger.Warn("no assistant provider configured, chat replies offline")
		return nil, nil
	case 1:
		return assistant.NewFallbackAnswerer(chain[0], nil, rt.logger, m), nil
	default:
		return assistant.NewFallbackAnswerer(chain[0], chain[1], rt.logger, m), nil
	}
}

func (rt *Runtime) healthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if rt.pool != nil {
		checks["database"] = func(ctx context.Context) error { return rt.pool.Ping(ctx) }
	}
	if rt.redis != nil {
		checks["cache"] = func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }
	}
	return checks
}

// Handler returns the HTTP handler for the API.
func (rt *Runtime) Handler() http.Handler {
	return rt.handler
}

// Registry exposes the metrics registry.
func (rt *Runtime) Registry() *prometheus.Registry {
	return rt.registry
}

// Start launches the background loops. They stop on Shutdown or when ctx ends.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.tasks.Start(ctx)

	if rt.pgFeed != nil {
		rt.goLoop(ctx, "change feed", rt.pgFeed.Run)
	}
	if rt.invalidator != nil {
		rt.goLoop(ctx, "invalidator", rt.invalidator.Run)
	}
	if rt.cfg.ReminderInterval > 0 {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.reminders.Run(ctx, rt.cfg.ReminderInterval, nil)
		}()
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.limiter.RunEviction(ctx, time.Minute, limiterIdle)
	}()
}

func (rt *Runtime) goLoop(ctx context.Context, name string, run func(context.Context) error) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Error("background loop stopped", "loop", name, "error", err)
		}
	}()
}

// Shutdown stops the loops, drains background tasks and releases connections.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.cancel != nil {
		rt.cancel()
	}

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("bootstrap: background loops: %w", ctx.Err()))
	}
	if err := rt.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bootstrap: tasks: %w", err))
	}
	rt.hub.Close()
	if err := rt.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes answerer clients and storage connections.
func (rt *Runtime) release() error {
	var errs []error
	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil

	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close failed", "error", err)
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.memory != nil {
		rt.memory.Close()
	}
	return errors.Join(errs...)
}
