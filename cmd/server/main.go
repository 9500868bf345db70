package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"credline/internal/ledger"
	"credline/internal/platform/config"
	"credline/internal/platform/httpserver"
	"credline/internal/platform/logger"
	"credline/internal/platform/metrics"
	"credline/internal/platform/tracing"
	httptransport "credline/internal/transport/http"
	"credline/pkg/capability"
	id "credline/pkg/domain"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "credline: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	slog.SetDefault(log)

	operator, err := id.ParseAddress(cfg.Ledger.Operator)
	if err != nil {
		return fmt.Errorf("ledger.operator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.Env)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Error("tracer shutdown failed", "error", err)
		}
	}()

	registry := metrics.NewRegistry()
	deps, err := buildDependencies(ctx, cfg, log, registry)
	if err != nil {
		return err
	}
	defer deps.Close()

	opts := append([]ledger.Option{
		ledger.WithLogger(log),
		ledger.WithRegistry(registry),
		ledger.WithTracerProvider(tp),
	}, deps.ledgerOptions...)
	l, err := ledger.New(deps.backend, ledger.Config{
		Operator:           operator,
		PoolAPRBasisPoints: cfg.Ledger.PoolAPRBasisPoints,
		CredentialValidity: cfg.Ledger.CredentialValidity,
	}, opts...)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}

	var verifier *capability.Issuer
	if cfg.Capability.Secret != "" {
		verifier, err = capability.NewIssuer(cfg.Capability.Secret, capability.WithTTL(cfg.Capability.TTL))
		if err != nil {
			return err
		}
	} else {
		log.Warn("capability secret not set, ledger query routes disabled")
	}

	handlerOpts := append([]httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithMetrics(metrics.New(registry), registry),
	}, deps.httpOptions...)
	var handler *httptransport.Handler
	if verifier != nil {
		handler = httptransport.NewHandler(l, verifier, handlerOpts...)
	} else {
		handler = httptransport.NewHandler(l, nil, handlerOpts...)
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting credline", "addr", cfg.Server.Addr, "backend", deps.name)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	if deps.relay != nil {
		g.Go(func() error {
			if err := deps.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("credline stopped", "error", err)
	return err
}
