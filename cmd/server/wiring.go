package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"credline/internal/ledger"
	"credline/internal/platform/config"
	"credline/internal/platform/postgres"
	platformredis "credline/internal/platform/redis"
	ratelimitmetrics "credline/internal/ratelimit/metrics"
	ratelimit "credline/internal/ratelimit/middleware"
	"credline/internal/ratelimit/store/bucket"
	scorecache "credline/internal/scoring/cache"
	httptransport "credline/internal/transport/http"
	"credline/pkg/platform/audit/publishers/kafka"
	auditpostgres "credline/pkg/platform/audit/store/postgres"
	"credline/pkg/platform/audit/worker"
	"credline/pkg/platform/circuit"
)

// dependencies holds everything run needs besides the ledger itself.
type dependencies struct {
	name          string
	backend       ledger.Backend
	ledgerOptions []ledger.Option
	httpOptions   []httptransport.Option
	relay         *worker.Relay
	closers       []func()
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDependencies picks the storage backend and wires the optional score
// cache and event stream. Postgres deployments stream through the outbox
// relay so events survive a crash; in-memory deployments stream after
// commit.
func buildDependencies(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*dependencies, error) {
	deps := &dependencies{}
	var db *sql.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			deps.Close()
			return nil, err
		}
		deps.name = "postgres"
		deps.backend = ledger.PostgresBackend(db)
		deps.httpOptions = append(deps.httpOptions, httptransport.WithReadinessCheck("postgres", db.PingContext))
	} else {
		log.Warn("database url not set, state is kept in memory")
		deps.name = "memory"
		deps.backend = ledger.MemoryBackend()
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		deps.Close()
		return nil, err
	}
	if rc != nil {
		deps.closers = append(deps.closers, func() { _ = rc.Close() })
		breaker := circuit.New("score-cache", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2))
		cache := scorecache.New(rc.Client,
			scorecache.WithTTL(cfg.Redis.CacheTTL),
			scorecache.WithLogger(log.With("component", "score_cache")),
			scorecache.WithBreaker(breaker),
		)
		deps.ledgerOptions = append(deps.ledgerOptions, ledger.WithScoreCache(cache))
		deps.httpOptions = append(deps.httpOptions, httptransport.WithReadinessCheck("redis", rc.Health))
	}

	if cfg.RateLimit.Requests > 0 {
		var store ratelimit.BucketStore = bucket.NewInMemoryBucketStore(nil)
		if rc != nil {
			store = bucket.NewRedisBucketStore(rc.Client, nil)
		}
		limiter := ratelimit.New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window,
			ratelimit.WithLogger(log.With("component", "ratelimit")),
			ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
		)
		deps.httpOptions = append(deps.httpOptions, httptransport.WithRateLimit(limiter.RateLimit))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		if err := kafka.EnsureTopic(ctx, kadm.NewClient(client), cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			deps.Close()
			return nil, err
		}
		publisher := kafka.New(client, cfg.Kafka.Topic,
			kafka.WithLogger(log.With("component", "kafka")),
			kafka.WithMetrics(kafka.NewMetrics(reg)),
		)
		deps.httpOptions = append(deps.httpOptions, httptransport.WithReadinessCheck("kafka", pingKafka(client)))

		if db != nil {
			deps.relay = worker.NewRelay(auditpostgres.New(db), publisher,
				worker.WithLogger(log.With("component", "outbox_relay")),
				worker.WithInterval(cfg.Kafka.RelayInterval),
			)
		} else {
			deps.ledgerOptions = append(deps.ledgerOptions, ledger.WithStreamer(publisher))
		}
	}

	return deps, nil
}

func pingKafka(client *kgo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("kafka ping: %w", err)
		}
		return nil
	}
}
