package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"bus-navigator/internal/config"
	"bus-navigator/internal/metrics"
	"bus-navigator/internal/nav"
	"bus-navigator/internal/planner"
	"bus-navigator/internal/publisher"
	"bus-navigator/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(nav.ProximityMeters, nav.DefaultWatchConfig.MinDistanceMeters)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// The simulator is the position source, so it cannot ask anyone where the journey starts.
	if cfg.Origin == "" && cfg.RouteSource != "file" {
		log.Fatalf("ORIGIN is required to simulate a %s route", cfg.RouteSource)
	}
	src, closeSrc, err := planner.Source(ctx, cfg)
	if err != nil {
		log.Fatalf("route source error: %v", err)
	}
	r, err := planner.Plan(ctx, src, cfg.Origin, cfg.Destination)
	closeSrc()
	if err != nil {
		log.Fatalf("plan error: %v", err)
	}

	nc, err := publisher.Connect(cfg.NATSURL, "simulator-"+cfg.SessionID, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Close()
	pub := publisher.NewNATSPublisher(nc, cfg.LogNATSSubjects, mcol)

	mgr := sim.NewManager(pub, sim.Options{
		Subject:         cfg.FixSubject,
		PublishInterval: cfg.PublishInterval,
		SpeedMps:        cfg.WalkSpeedMps * cfg.SpeedMultiplier,
		StartHold:       cfg.StartHold,
	}, mcol)

	finished := make(chan struct{})
	if err := mgr.Start(ctx, cfg.SessionID, r.Path(), func(error) { close(finished) }); err != nil {
		log.Fatalf("simulate error: %v", err)
	}
	log.Printf("publishing fixes subject=%s", publisher.Subject(cfg.FixSubject, cfg.SessionID))

	// Block until the walk ends or we are interrupted
	select {
	case <-ctx.Done():
	case <-finished:
	}
	mgr.Stop()
	if err := pub.Flush(); err != nil {
		log.Printf("nats flush: %v", err)
	}
	log.Println("shutdown complete")
}
