package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/dispatch-console/internal/config"
	"github.com/example/dispatch-console/internal/dispatch"
	"github.com/example/dispatch-console/internal/eta"
	"github.com/example/dispatch-console/internal/geo"
	httpapi "github.com/example/dispatch-console/internal/http"
	"github.com/example/dispatch-console/internal/ingest"
	"github.com/example/dispatch-console/internal/intake"
	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/matcher"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type closer func() error

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc.Close)
	}

	store, ready, err := openStore(ctx, cfg, rc, logger)
	if err != nil {
		return err
	}
	// rc is registered above; only SQL stores own their handle
	if c, ok := store.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	var fleet interface {
		geo.Upserter
		matcher.Pool
	}
	if rc != nil {
		fleet = geo.NewRedisPool(rc, cfg.RedisGeoKey, 0)
	} else {
		fleet = geo.NewIndex()
	}
	if cfg.FleetFile != "" {
		f, err := geo.LoadFleet(cfg.FleetFile)
		if err != nil {
			return fmt.Errorf("fleet file: %w", err)
		}
		if err := f.Seed(ctx, fleet); err != nil {
			return fmt.Errorf("seed fleet: %w", err)
		}
		logger.Info("fleet_seeded", "drivers", len(f.Drivers), "file", cfg.FleetFile)
	}

	pf := matcher.DefaultPolicyFile()
	if cfg.MatcherPolicyFile != "" {
		if pf, err = matcher.LoadPolicyFile(cfg.MatcherPolicyFile); err != nil {
			return err
		}
	}
	policy, err := matcher.PolicyByName(cfg.MatcherPolicy, pf)
	if err != nil {
		return err
	}

	estimator := eta.NewEstimator(cfg.ETASpeedKmh)
	if cfg.OSRMURL != "" {
		estimator.Router = eta.NewOSRMClient(cfg.OSRMURL)
		estimator.Cache = eta.NewCache(10 * time.Minute)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaBookingsTopic, cfg.KafkaTelemetryTopic)
		closers = append(closers, kp.Close)
	}

	wsreg := dispatch.NewWSRegistry(logger)
	srv := httpapi.NewServer(httpapi.Options{
		Store: store,
		Intake: intake.Deps{
			Matcher:   &matcher.Service{Pool: fleet, Engine: matcher.NewEngine(policy, pf.Weights, logger), TopN: cfg.MatcherTopN},
			Estimator: estimator,
			Depot:     models.Coord{Lat: cfg.DepotLat, Lon: cfg.DepotLon},
			Publisher: kp,
			Notifier:  wsreg,
			Logger:    logger,
		},
		Fleet:  fleet,
		Kafka:  kp,
		WSReg:  wsreg,
		Logger: logger,
		Ready:  ready,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatch-console listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "policy", cfg.MatcherPolicy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.ServerConfig, rc *redis.Client, logger *slog.Logger) (storage.KV, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs := storage.NewRedisStore(rc, "dispatch:", cfg.SessionTTL)
		return rs, rs.Ping, nil
	case config.BackendPostgres, config.BackendSQLite:
		driver, dsn := "postgres", cfg.PGDSN
		if cfg.StoreBackend == config.BackendSQLite {
			driver, dsn = "sqlite", cfg.SQLitePath
		}
		ss, err := storage.OpenSQL(driver, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", driver, err)
		}
		// sqlite files start empty, so their table is always created
		if cfg.RunMigrations || driver == "sqlite" {
			if err := ss.Migrate(ctx); err != nil {
				_ = ss.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migration applied", "driver", driver)
		}
		return ss, ss.Ping, nil
	}
	return storage.NewMemoryStore(), nil, nil
}
