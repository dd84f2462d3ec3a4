package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darpa-sail-on/docsearch/internal/analytics"
	"github.com/darpa-sail-on/docsearch/internal/analytics/aggregator"
	"github.com/darpa-sail-on/docsearch/internal/ingestion"
	"github.com/darpa-sail-on/docsearch/internal/searcher/cache"
	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/handler"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	"github.com/darpa-sail-on/docsearch/internal/store"
	"github.com/darpa-sail-on/docsearch/pkg/config"
	"github.com/darpa-sail-on/docsearch/pkg/health"
	"github.com/darpa-sail-on/docsearch/pkg/kafka"
	"github.com/darpa-sail-on/docsearch/pkg/metrics"
	"github.com/darpa-sail-on/docsearch/pkg/middleware"
	"github.com/darpa-sail-on/docsearch/pkg/postgres"
	"github.com/darpa-sail-on/docsearch/pkg/ratelimit"
	pkgredis "github.com/darpa-sail-on/docsearch/pkg/redis"
	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

// Run starts the service described by cfg and blocks until ctx is
// cancelled and shutdown completes.
func Run(ctx context.Context, cfg *config.Config) error {
	log := slog.Default().With("component", "server")
	instance := instanceID()
	m := metrics.New(nil)

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	catalog := store.NewCatalog(cfg.Projects)
	catalog.OnReload(MetricsHook(m))

	g, gctx := errgroup.WithContext(ctx)

	var (
		pg          *postgres.Client
		history     *store.History
		snapshots   *aggregator.Store
		redisClient *pkgredis.Client
		queryCache  *cache.QueryCache
	)

	if cfg.Postgres.Enabled {
		pg, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		history = store.NewHistory(pg)
		snapshots = aggregator.NewStore(pg)
		if err := history.Migrate(ctx); err != nil {
			return err
		}
		if err := snapshots.Migrate(ctx); err != nil {
			return err
		}
		catalog.OnReload(history.Hook())
	}

	agg := analytics.NewAggregator()
	var analyticsPub kafka.Publisher = analytics.NewLocalPublisher(agg)
	if cfg.Kafka.Enabled {
		reloadProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexReloaded)
		defer reloadProducer.Close()
		notifier := store.NewNotifier(reloadProducer, catalog, instance)
		catalog.OnReload(notifier.Hook())
		// Every instance must see every reload, so each gets its own group.
		reloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexReloaded,
			cfg.Kafka.ConsumerGroup+"-reload-"+instance, notifier.Handle)
		g.Go(func() error { return reloadConsumer.Start(gctx) })

		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		analyticsPub = analyticsProducer
		analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
			cfg.Kafka.ConsumerGroup+"-analytics-"+instance, agg.Handle)
		g.Go(func() error { return analyticsConsumer.Start(gctx) })
		log.Info("kafka enabled", "brokers", cfg.Kafka.Brokers, "instance", instance)
	}

	if err := catalog.LoadAll(ctx); err != nil {
		log.Warn("some projects failed to load", "error", err)
	}

	if cfg.Watch.Enabled && len(cfg.Projects) > 0 {
		watcher, err := store.NewWatcher(catalog, cfg.Watch.Debounce)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.NewWithBreaker(redisClient, cfg.Redis.CacheTTL, resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
				OnStateChange:    m.CircuitStateHook(),
			})
			log.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	collector := analytics.NewCollector(analyticsPub, cfg.Analytics.BufferSize)
	collector.Start(gctx)
	if snapshots != nil && cfg.Analytics.SnapshotInterval > 0 {
		snapshots.StartPeriodicSave(gctx, agg, cfg.Analytics.SnapshotInterval)
	}

	scorer := ranker.FromConfig(cfg.Search.Scorer)
	execs := make(map[string]*executor.Executor, len(cfg.Projects))
	for _, s := range catalog.Stores() {
		execs[s.Project()] = executor.New(s.Project(), s, scorer)
	}
	searcher := executor.NewCatalog(execs, cfg.Search.TimeoutPerProject)

	opts := handler.Options{Cache: queryCache, Collector: collector, Metrics: m}
	if history != nil {
		opts.Builds = history
	}
	var snapshotLister analytics.SnapshotLister
	if snapshots != nil {
		snapshotLister = snapshots
	}

	rt := Routes{
		Search:     handler.New(searcher, catalog, cfg.Search.DefaultLimit, cfg.Search.MaxResults, opts),
		Analytics:  analytics.NewHandler(agg, snapshotLister),
		Ingest:     ingestion.New(catalog),
		Health:     newChecker(catalog, redisClient, pg),
		Metrics:    m,
		AdminToken: cfg.Admin.Token,
		Timeout:    cfg.Server.WriteTimeout,
		CORS:       middleware.DefaultCORSConfig(),
	}
	if cfg.RateLimit.Enabled {
		rt.Limiter = ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
		rt.TrustedProxies = trustedProxies
		g.Go(func() error {
			rt.Limiter.RunCleanup(gctx, 5*time.Minute)
			return nil
		})
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 || cfg.Metrics.Port == cfg.Server.Port {
			rt.MetricsHandler = metrics.Handler()
		} else {
			shutdown := metrics.StartServer(cfg.Metrics.Port, metrics.Handler())
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      NewRouter(rt),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}
	g.Go(func() error {
		log.Info("search service listening", "addr", srv.Addr, "projects", catalog.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	collector.Close()
	log.Info("search service stopped")
	return err
}

// MetricsHook mirrors reload outcomes and index sizes into Prometheus.
func MetricsHook(m *metrics.Metrics) store.ReloadHook {
	return func(_ context.Context, ev store.ReloadEvent) {
		m.IndexReloadsTotal.WithLabelValues(ev.Project, string(ev.Status)).Inc()
		if ev.Status == store.StatusSwapped {
			m.SetIndexGauges(ev.Project, ev.Stats.Documents, ev.Stats.Terms, ev.Stats.Objects, ev.At)
		}
	}
}

func newChecker(catalog *store.Catalog, redisClient *pkgredis.Client, pg *postgres.Client) *health.Checker {
	checker := health.NewChecker()
	checker.RegisterCritical("indices", IndicesCheck(catalog))
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping))
	}
	if pg != nil {
		checker.Register("postgres", health.Ping(pg.Ping))
	}
	return checker
}

// IndicesCheck is down until every project has an index and degraded while
// a project's latest build failed to load.
func IndicesCheck(catalog *store.Catalog) health.Check {
	return func(context.Context) health.ComponentHealth {
		stores := catalog.Stores()
		loaded, failing := 0, 0
		for _, s := range stores {
			info := s.Info()
			if info.Loaded {
				loaded++
			}
			if info.LastError != "" {
				failing++
			}
		}
		msg := fmt.Sprintf("%d/%d projects loaded", loaded, len(stores))
		switch {
		case loaded < len(stores):
			return health.ComponentHealth{Status: health.StatusDown, Message: msg}
		case failing > 0:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("%s, %d failing reload", msg, failing)}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: msg}
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "docsearch"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
