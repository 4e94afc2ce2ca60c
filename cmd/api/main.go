package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "supplychain-orchestrator/internal/api"
	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/execution"
	"supplychain-orchestrator/internal/ratelimit"
	"supplychain-orchestrator/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	b := bus.NewRedisStreams(cfg)
	defer b.Close()

	// Approvals execute inline; the orchestrator's outbox relay delivers the resulting events.
	executor := execution.NewRegistry(st)
	execution.RegisterDefaults(executor)
	svc := decision.NewService(cfg, st, executor)

	limiter := ratelimit.NewTokenBucket(b.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, svc, b, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
