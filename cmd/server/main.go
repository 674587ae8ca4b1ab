package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Monthlyaway/linktrack/config"
	"github.com/Monthlyaway/linktrack/internal/cache"
	"github.com/Monthlyaway/linktrack/internal/events"
	"github.com/Monthlyaway/linktrack/internal/filter"
	"github.com/Monthlyaway/linktrack/internal/handler"
	"github.com/Monthlyaway/linktrack/internal/logger"
	"github.com/Monthlyaway/linktrack/internal/logsink"
	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/middleware"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/service"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"github.com/Monthlyaway/linktrack/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	if cfg.LogSink.Enabled {
		level, err := logger.ParseLevel(cfg.LogSink.Level)
		if err != nil {
			return err
		}
		sink := logsink.New(logsink.Config{
			URL:     cfg.LogSink.URL,
			Stack:   cfg.LogSink.Stack,
			Buffer:  cfg.LogSink.Buffer,
			Timeout: cfg.LogSink.Timeout,
		}, m)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sink.Close(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "log sink did not drain: %v\n", err)
			}
		}()
		log = logsink.Attach(log, sink, level)
	}

	clock := utils.RealClock{}
	ids, err := utils.NewIDNode(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to initialize snowflake: %w", err)
	}

	store, closeStore, err := openStore(cfg, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.CacheTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		defer redisCache.Close()

		codes := filter.NewCodeFilter(cfg.BloomFilter.Capacity, cfg.BloomFilter.FalsePositiveRate)
		cached := repository.NewCachedStore(store, redisCache, codes, clock, m, log)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := cached.Warm(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to warm bloom filter: %w", err)
		}
		log.Info("bloom filter warmed", zap.Int("codes", n))
		store = cached
	}

	var source utils.CodeSource
	switch cfg.ShortCode.Strategy {
	case "snowflake":
		source = utils.NewSnowflakeSource(ids)
	default:
		source = utils.NewRandomSource(cfg.ShortCode.Length)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log, func(n int, err error) {
			result := "delivered"
			if err != nil {
				result = "undelivered"
			}
			m.EventsTotal.WithLabelValues(result).Add(float64(n))
		})
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to close click publisher", zap.Error(err))
		}
	}()

	timeout := cfg.Storage.OperationTimeout
	allocator := service.NewAllocator(store, source, cfg.ShortCode.MaxAttempts, m)
	urls := service.NewURLService(store, allocator, ids, clock, timeout, m, log)
	recorder := service.NewClickRecorder(store, ids, clock, m)
	resolver := service.NewResolver(store, recorder, publisher, clock, timeout, m, log)
	analyzer := service.NewAnalyzer(store, clock, timeout)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	if cfg.RateLimit.Enabled && redisCache != nil {
		strategy, err := middleware.ParseStrategy(cfg.RateLimit.Strategy)
		if err != nil {
			return err
		}
		keyFunc, err := middleware.ParseKeyFunc(cfg.RateLimit.Key)
		if err != nil {
			return err
		}
		limiter := middleware.NewRateLimiter(redisCache.Client(), middleware.RateLimitConfig{
			Strategy: strategy,
			Limit:    cfg.RateLimit.Limit,
			Window:   cfg.RateLimit.Window,
			KeyFunc:  keyFunc,
			SkipFunc: middleware.SkipOperational,
		}, log)
		router.Use(limiter.Middleware())
		log.Info("rate limiting enabled",
			zap.String("strategy", string(strategy)),
			zap.Int("limit", cfg.RateLimit.Limit),
			zap.Duration("window", cfg.RateLimit.Window),
			zap.String("key", cfg.RateLimit.Key),
		)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.NewURLHandler(urls, resolver, analyzer, cfg.Server.BaseURL, log).Register(router)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	if cfg.Reaper.Enabled {
		reaper := worker.NewReaper(store, cfg.Reaper.Interval, timeout, m, log)
		g.Go(func() error {
			reaper.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore builds the record store named by storage.driver
func openStore(cfg *config.Config, clock utils.Clock) (repository.Store, func(), error) {
	var dsn string
	switch cfg.Storage.Driver {
	case "memory":
		return repository.NewMemoryStore(clock), func() {}, nil
	case "mysql":
		dsn = cfg.MySQL.DSN()
	case "sqlite":
		dsn = cfg.Storage.SQLitePath
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	db, err := repository.OpenDatabase(cfg.Storage.Driver, dsn, cfg.MySQL.MaxIdleConns, cfg.MySQL.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := repository.NewGormStore(db, clock)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
