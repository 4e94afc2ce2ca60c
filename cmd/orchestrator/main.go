package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"supplychain-orchestrator/internal/agent"
	"supplychain-orchestrator/internal/archive"
	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/execution"
	"supplychain-orchestrator/internal/orchestrator"
	"supplychain-orchestrator/internal/outbox"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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
	if err := b.Ping(ctx); err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	engine, err := policy.NewEngineFromFile(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("load policies: %v", err)
	}

	executor := execution.NewRegistry(st)
	execution.RegisterDefaults(executor)
	svc := decision.NewService(cfg, st, executor)

	uploader, err := archive.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init archive uploader: %v", err)
	}
	archiver := archive.NewArchiver(cfg, b, b.Client(), uploader)

	streams := append([]string{}, cfg.InboundStreams...)
	for _, s := range []string{
		execution.StreamDecisions,
		execution.StreamShipments,
		execution.StreamAlerts,
		execution.StreamSuppliers,
	} {
		if !slices.Contains(streams, s) {
			streams = append(streams, s)
		}
	}

	registry := agent.NewRegistry()
	for _, task := range []agent.Task{
		orchestrator.New(cfg, b, st, engine, svc),
		outbox.NewRelay(cfg, st, b),
		archiver,
		archive.NewTrimmer(cfg, b, archiver, streams),
	} {
		if err := registry.Register(task); err != nil {
			log.Fatalf("register %s: %v", task.Name(), err)
		}
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	sup := agent.NewSupervisor(registry)
	sup.Start(ctx)
	log.Printf("orchestrator started with %d tasks, policies=%s", len(registry.Tasks()), engine.Hash())

	<-ctx.Done()
	if err := sup.Wait(cfg.ShutdownTimeout); err != nil {
		log.Printf("orchestrator stopped: %v", err)
	}
}
