package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-console/internal/config"
	"github.com/example/dispatch-console/internal/geo"
	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver telemetry messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	poolUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_updates_total",
		Help: "Total successful candidate pool updates",
	})
	poolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_errors_total",
		Help: "Total candidate pool update failures",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, poolUpdates, poolErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pool := geo.NewRedisPool(rc, cfg.RedisGeoKey, 0)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()
		handleMessage(ctx, logger, pool, m.Value)
	}
}

// telemetrySink is the subset of the candidate pool the consumer writes to.
type telemetrySink interface {
	Upsert(ctx context.Context, d models.DriverTelemetry) error
}

var errInvalidTelemetry = errors.New("invalid telemetry")

func decodeTelemetry(b []byte) (models.DriverTelemetry, error) {
	var d models.DriverTelemetry
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("%w: %v", errInvalidTelemetry, err)
	}
	if d.ID == "" {
		return d, fmt.Errorf("%w: missing driver id", errInvalidTelemetry)
	}
	if d.BatteryPct < 0 || d.BatteryPct > 100 {
		return d, fmt.Errorf("%w: battery %.1f out of range", errInvalidTelemetry, d.BatteryPct)
	}
	return d, nil
}

func handleMessage(ctx context.Context, logger *slog.Logger, sink telemetrySink, value []byte) {
	d, err := decodeTelemetry(value)
	if err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid message", "error", err)
		return
	}
	if err := upsertWithRetry(ctx, sink, d, 3, 200*time.Millisecond); err != nil {
		poolErrors.Inc()
		logger.Error("pool update failed", "driver_id", d.ID, "error", err)
		return
	}
	poolUpdates.Inc()
}

// upsertWithRetry writes telemetry to the pool with exponential backoff.
func upsertWithRetry(ctx context.Context, sink telemetrySink, d models.DriverTelemetry, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.Upsert(ctx, d); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
