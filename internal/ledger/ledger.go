// Package ledger is the composition root of the credit ledger. It wires the
// identity registry, scoring engine, credential issuer and loan settlement
// engine onto one transaction runner and one event log, and exposes every
// operation as a traced method.
//
// The caller of an operation is read from the request context
// (requestcontext.WithCaller); privileged operations compare it against the
// configured operator.
package ledger

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	credentialmetrics "credline/internal/credential/metrics"
	credentialsvc "credline/internal/credential/service"
	credentialstore "credline/internal/credential/store"
	identitymetrics "credline/internal/identity/metrics"
	identitysvc "credline/internal/identity/service"
	identitystore "credline/internal/identity/store"
	"credline/internal/lending/funds"
	lendingmetrics "credline/internal/lending/metrics"
	lendingsvc "credline/internal/lending/service"
	lendingstore "credline/internal/lending/store"
	scoringmetrics "credline/internal/scoring/metrics"
	scoringsvc "credline/internal/scoring/service"
	scoringstore "credline/internal/scoring/store"
	id "credline/pkg/domain"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/publisher"
	"credline/pkg/platform/audit/store/memory"
	auditpostgres "credline/pkg/platform/audit/store/postgres"
	"credline/pkg/platform/tx"
)

const tracerName = "credline/ledger"

// Config holds the ledger's business parameters.
type Config struct {
	Operator           id.Address
	PoolAPRBasisPoints int64
	CredentialValidity time.Duration
}

// Backend is the storage the ledger runs on. All stores must honour the
// transaction carried by Runner.
type Backend struct {
	Runner      tx.Runner
	Identities  identitysvc.Store
	Scores      scoringsvc.Store
	Credentials credentialsvc.Store
	Loans       lendingsvc.Store
	Funds       lendingsvc.Funds
	Events      audit.Store
}

// MemoryBackend keeps all state in process behind one global lock.
func MemoryBackend(opts ...tx.Option) Backend {
	return Backend{
		Runner:      tx.NewSerial(opts...),
		Identities:  identitystore.NewInMemory(),
		Scores:      scoringstore.NewInMemory(),
		Credentials: credentialstore.NewInMemory(),
		Loans:       lendingstore.NewInMemory(),
		Funds:       funds.NewInMemory(),
		Events:      memory.NewInMemoryStore(),
	}
}

// PostgresBackend keeps all state in PostgreSQL. Every operation runs in one
// SQL transaction serialized by an advisory lock.
func PostgresBackend(db *sql.DB, opts ...tx.Option) Backend {
	return Backend{
		Runner:      tx.NewSQL(db, opts...),
		Identities:  identitystore.NewPostgres(db),
		Scores:      scoringstore.NewPostgres(db),
		Credentials: credentialstore.NewPostgres(db),
		Loans:       lendingstore.NewPostgres(db),
		Funds:       funds.NewPostgres(db),
		Events:      auditpostgres.New(db),
	}
}

// Ledger exposes every ledger operation.
type Ledger struct {
	identity   *identitysvc.Service
	scoring    *scoringsvc.Service
	credential *credentialsvc.Service
	lending    *lendingsvc.Service
	events     *publisher.Publisher
	runner     tx.Runner

	tracer trace.Tracer
	logger *slog.Logger
}

type options struct {
	logger     *slog.Logger
	registry   prometheus.Registerer
	tracer     trace.TracerProvider
	scoreCache scoringsvc.Cache
	streamer   publisher.Streamer
	clock      func() time.Time
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers component metrics on reg. Without it no metrics are
// collected.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithScoreCache puts a read-through cache in front of score queries.
func WithScoreCache(c scoringsvc.Cache) Option {
	return func(o *options) {
		o.scoreCache = c
	}
}

// WithStreamer forwards committed events, for example to Kafka.
func WithStreamer(s publisher.Streamer) Option {
	return func(o *options) {
		o.streamer = s
	}
}

// WithClock sets the clock used by read-only expiry and interest queries.
// Transactions take their time from the runner's clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New wires the components onto backend.
func New(backend Backend, cfg Config, opts ...Option) (*Ledger, error) {
	if backend.Runner == nil {
		return nil, errors.New("transaction runner is required")
	}
	if backend.Events == nil {
		return nil, errors.New("event store is required")
	}
	if cfg.Operator.IsNil() {
		return nil, errors.New("operator address is required")
	}
	o := options{
		logger: slog.Default(),
		tracer: otel.GetTracerProvider(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	pubOpts := []publisher.Option{publisher.WithLogger(o.logger)}
	if o.streamer != nil {
		pubOpts = append(pubOpts, publisher.WithStreamer(o.streamer))
	}
	if o.registry != nil {
		pubOpts = append(pubOpts, publisher.WithMetrics(publisher.NewMetrics(o.registry)))
	}
	events := publisher.NewPublisher(backend.Events, pubOpts...)

	identityOpts := []identitysvc.Option{
		identitysvc.WithLogger(o.logger.With("component", audit.ComponentIdentity)),
		identitysvc.WithEventEmitter(events),
	}
	scoringOpts := []scoringsvc.Option{
		scoringsvc.WithLogger(o.logger.With("component", audit.ComponentScoring)),
		scoringsvc.WithEventEmitter(events),
	}
	credentialOpts := []credentialsvc.Option{
		credentialsvc.WithLogger(o.logger.With("component", audit.ComponentCredential)),
		credentialsvc.WithEventEmitter(events),
		credentialsvc.WithValidity(cfg.CredentialValidity),
		credentialsvc.WithClock(o.clock),
	}
	lendingOpts := []lendingsvc.Option{
		lendingsvc.WithLogger(o.logger.With("component", audit.ComponentLending)),
		lendingsvc.WithEventEmitter(events),
		lendingsvc.WithClock(o.clock),
	}
	if cfg.PoolAPRBasisPoints > 0 {
		lendingOpts = append(lendingOpts, lendingsvc.WithAPR(cfg.PoolAPRBasisPoints))
	}
	if o.scoreCache != nil {
		scoringOpts = append(scoringOpts, scoringsvc.WithCache(o.scoreCache))
	}
	if o.registry != nil {
		identityOpts = append(identityOpts, identitysvc.WithMetrics(identitymetrics.New(o.registry)))
		scoringOpts = append(scoringOpts, scoringsvc.WithMetrics(scoringmetrics.New(o.registry)))
		credentialOpts = append(credentialOpts, credentialsvc.WithMetrics(credentialmetrics.New(o.registry)))
		lendingOpts = append(lendingOpts, lendingsvc.WithMetrics(lendingmetrics.New(o.registry)))
	}

	identity, err := identitysvc.New(backend.Identities, backend.Runner, cfg.Operator, identityOpts...)
	if err != nil {
		return nil, err
	}
	scoring, err := scoringsvc.New(backend.Scores, backend.Runner, cfg.Operator, scoringOpts...)
	if err != nil {
		return nil, err
	}
	credential, err := credentialsvc.New(backend.Credentials, backend.Runner, cfg.Operator, credentialOpts...)
	if err != nil {
		return nil, err
	}
	lending, err := lendingsvc.New(backend.Loans, backend.Funds, scoring, backend.Runner, cfg.Operator, lendingOpts...)
	if err != nil {
		return nil, err
	}

	return &Ledger{
		identity:   identity,
		scoring:    scoring,
		credential: credential,
		lending:    lending,
		events:     events,
		runner:     backend.Runner,
		tracer:     o.tracer.Tracer(tracerName),
		logger:     o.logger,
	}, nil
}
