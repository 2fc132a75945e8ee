package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"bus-navigator/internal/config"
	"bus-navigator/internal/instruction"
	"bus-navigator/internal/location"
	"bus-navigator/internal/metrics"
	"bus-navigator/internal/nav"
	"bus-navigator/internal/planner"
	"bus-navigator/internal/poll"
	"bus-navigator/internal/publisher"
	"bus-navigator/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

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

	nc, err := publisher.Connect(cfg.NATSURL, "navigator-"+cfg.SessionID, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Close()
	pub := publisher.NewNATSPublisher(nc, cfg.LogNATSSubjects, mcol)
	provider := location.NewNATSProvider(nc, publisher.Subject(cfg.FixSubject, cfg.SessionID), cfg.LocationGranted)

	// "Use current location": without ORIGIN the journey starts at the next fix we receive.
	origin := cfg.Origin
	if origin == "" {
		pctx, pcancel := context.WithTimeout(ctx, cfg.PositionTimeout)
		fix, err := provider.CurrentPosition(pctx)
		pcancel()
		if err != nil {
			log.Fatalf("no ORIGIN set and no current position: %v", err)
		}
		origin = fix.String()
		log.Printf("using current location %s", origin)
	}

	src, closeSrc, err := planner.Source(ctx, cfg)
	if err != nil {
		log.Fatalf("route source error: %v", err)
	}
	r, err := planner.Plan(ctx, src, origin, cfg.Destination)
	closeSrc()
	if err != nil {
		log.Fatalf("plan error: %v", err)
	}

	sinks := []speech.Sink{
		speech.LogSink{SessionID: cfg.SessionID},
		speech.NewPublisherSink(pub, cfg.SpeechSubject, cfg.SessionID),
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := speech.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.SessionID)
		if err != nil {
			log.Fatalf("amqp error: %v", err)
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	queue := speech.NewQueue(speech.Multi(sinks...), cfg.SpeechQueueSize, mcol)

	if cfg.ReadOverview {
		queue.Speak(instruction.Overview(r))
	}

	engine := nav.New(provider, queue,
		nav.WithMetrics(mcol),
		nav.WithUnavailableHandler(func(err error) {
			log.Printf("waiting for location: %v", err)
		}),
	)
	if err := engine.Start(ctx, r); err != nil {
		queue.Close()
		log.Fatalf("navigation error: %v", err)
	}

	// Periodic progress line until the session ends.
	statusCtx, stopStatus := context.WithCancel(ctx)
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		_ = poll.Until(statusCtx, poll.Options{Interval: cfg.StatusInterval}, func(context.Context) (bool, error) {
			st := engine.Status()
			log.Printf("navigation status=%s step=%d/%d", st.Status, st.StepIndex, st.Steps)
			return st.Status != nav.StatusActive, nil
		})
	}()

	select {
	case <-engine.Done():
	case <-ctx.Done():
		engine.Stop()
	}
	stopStatus()
	<-statusDone

	queue.Close()
	if err := pub.Flush(); err != nil {
		log.Printf("nats flush: %v", err)
	}
	log.Println("shutdown complete")
}
