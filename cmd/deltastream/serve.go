package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"deltastream/internal/adapter/gateway"
	"deltastream/internal/adapter/llm"
	"deltastream/internal/domain"
	"deltastream/internal/infra/config"
	"deltastream/internal/infra/logger"
	"deltastream/internal/infra/tracer"
	"deltastream/internal/usecase/eventbus"
	"deltastream/internal/usecase/streaming"
)

const shutdownGrace = 10 * time.Second

func runServe(args []string) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	breakers := llm.NewBreakers(cfg.Stream.CircuitBreaker, log)
	client := newClient(cfg.Stream, breakers, log)
	manager := streaming.NewManager(client, domain.BusSink{Bus: bus}, log)

	if len(cfg.Gateway.Auth.Tokens) == 0 {
		log.Warn("gateway has no auth tokens configured; accepting every client", "addr", cfg.Gateway.Addr)
	}
	gw := gateway.NewServer(bus, gateway.NewAuthenticator(cfg.Gateway.Auth.Tokens), cfg.Gateway, log)
	deps := gateway.HandlerDeps{
		Streams:  manager,
		Tester:   client,
		Config:   config.NewStore(cfg, path),
		Bus:      bus,
		Breakers: breakers,
		Logger:   log,
	}
	gateway.RegisterDefaultHandlers(gw, deps)
	gateway.RegisterRESTHandlers(gw, deps)

	log.Info("deltastream starting",
		"addr", cfg.Gateway.Addr,
		"default", cfg.Default,
		"providers", len(cfg.Providers),
		"circuit_breaker", breakers != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return manager.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("deltastream stopped", "streams", manager.Stats().Launched)
	return err
}
