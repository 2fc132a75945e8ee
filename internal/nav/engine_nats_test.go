package nav

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"

	"bus-navigator/internal/location"
	"bus-navigator/internal/publisher"
)

func TestEngineReportsLostFixStream(t *testing.T) {
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)
	defer srv.Shutdown()

	nc, err := publisher.Connect(srv.ClientURL(), "nav-test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	var mu sync.Mutex
	var lost []error
	sink := &recordingSink{}
	provider := location.NewNATSProvider(nc, publisher.Subject("fixes", "s1"), true)
	e := New(provider, sink, WithUnavailableHandler(func(err error) {
		mu.Lock()
		lost = append(lost, err)
		mu.Unlock()
	}))
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	pub := publisher.NewNATSPublisher(nc, false, nil)
	if err := pub.PublishPosition("fixes", publisher.PositionMessage{SessionID: "s1", Lat: 0, Lon: 0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "first step spoken", func() bool { return len(sink.all()) == 1 })

	srv.Shutdown()
	waitFor(t, "location loss reported", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lost) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(lost[0], ErrLocationUnavailable) || !errors.Is(lost[0], location.ErrUnavailable) {
		t.Errorf("expected ErrLocationUnavailable wrapping location.ErrUnavailable, got %v", lost[0])
	}
	if got := e.Status(); got.Status != StatusActive || got.StepIndex != 1 {
		t.Errorf("session should stay active at step 1, got %+v", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
