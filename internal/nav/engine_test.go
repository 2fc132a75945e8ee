package nav

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/instruction"
	"bus-navigator/internal/location"
	"bus-navigator/internal/route"
	"bus-navigator/internal/speech"
)

type fakeSub struct {
	cfg     location.WatchConfig
	onFix   func(geo.Coordinate)
	onErr   func(error)
	mu      sync.Mutex
	cancels int
}

func (s *fakeSub) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

type fakeProvider struct {
	perm     location.Permission
	permErr  error
	subErr   error
	permGate chan struct{} // when set, CheckPermission waits for it

	mu   sync.Mutex
	subs []*fakeSub
}

func newProvider() *fakeProvider {
	return &fakeProvider{perm: location.PermissionGranted}
}

func (p *fakeProvider) CheckPermission(context.Context) (location.Permission, error) {
	if p.permGate != nil {
		<-p.permGate
	}
	return p.perm, p.permErr
}

func (p *fakeProvider) Subscribe(_ context.Context, cfg location.WatchConfig, onFix func(geo.Coordinate), onErr func(error)) (location.Handle, error) {
	if p.subErr != nil {
		return nil, p.subErr
	}
	s := &fakeSub{cfg: cfg, onFix: onFix, onErr: onErr}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()
	// The raw release counts every call; the handle itself must dedupe.
	return location.NewHandle(func() {
		s.mu.Lock()
		s.cancels++
		s.mu.Unlock()
	}), nil
}

func (p *fakeProvider) CurrentPosition(context.Context) (geo.Coordinate, error) {
	return geo.Coordinate{}, nil
}

func (p *fakeProvider) last() *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSink) Speak(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recordingSink) countOf(text string) int {
	n := 0
	for _, t := range r.all() {
		if t == text {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	mu                                       sync.Mutex
	started, denied, fixes, steps, locErrors int
	ended                                    map[string]int
}

func (m *countingMetrics) SessionStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) PermissionDenied() {
	m.mu.Lock()
	m.denied++
	m.mu.Unlock()
}

func (m *countingMetrics) FixProcessed(time.Duration) {
	m.mu.Lock()
	m.fixes++
	m.mu.Unlock()
}

func (m *countingMetrics) StepAdvanced() {
	m.mu.Lock()
	m.steps++
	m.mu.Unlock()
}

func (m *countingMetrics) LocationError() {
	m.mu.Lock()
	m.locErrors++
	m.mu.Unlock()
}

func (m *countingMetrics) SessionEnded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended == nil {
		m.ended = map[string]int{}
	}
	m.ended[reason]++
}

func walkStep(lat, lon float64, text string) route.Step {
	return route.Walk(geo.Coordinate{Lat: lat, Lon: lon}, text, "10 m")
}

func twoStepRoute() route.Route {
	return route.Route{Steps: []route.Step{
		route.Transit(geo.Coordinate{Lat: 0, Lon: 0}, route.TransitDetails{
			Line: "12", DepartureStop: "A", DepartureTime: "09:00", ArrivalStop: "B", ArrivalTime: "09:20",
		}),
		walkStep(0, 0.001, "Walk to <b>destination</b>"),
	}}
}

// lonAt returns the longitude on the equator that lies meters east of 0.
func lonAt(meters float64) float64 {
	return meters / geo.EarthRadiusMeters * 180 / math.Pi
}

func TestStartRejectsEmptyRoute(t *testing.T) {
	p := newProvider()
	e := New(p, &recordingSink{})

	err := e.Start(context.Background(), route.Route{})
	if !errors.Is(err, route.ErrEmptyRoute) {
		t.Fatalf("expected ErrEmptyRoute, got %v", err)
	}
	if p.count() != 0 {
		t.Errorf("expected no subscription, got %d", p.count())
	}
	if got := e.Status().Status; got != StatusIdle {
		t.Errorf("expected idle, got %v", got)
	}
}

func TestStartPermissionDenied(t *testing.T) {
	tests := []struct {
		name    string
		perm    location.Permission
		permErr error
	}{
		{"denied", location.PermissionDenied, nil},
		{"undetermined", location.PermissionUndetermined, nil},
		{"check failed", location.PermissionGranted, errors.New("settings unavailable")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider()
			p.perm, p.permErr = tt.perm, tt.permErr
			sink := &recordingSink{}
			e := New(p, sink)

			err := e.Start(context.Background(), twoStepRoute())
			if !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("expected ErrPermissionDenied, got %v", err)
			}
			if p.count() != 0 {
				t.Errorf("expected no subscription, got %d", p.count())
			}
			if e.Status().Status != StatusIdle {
				t.Errorf("expected idle, got %v", e.Status().Status)
			}
			if len(sink.all()) != 0 {
				t.Errorf("expected no speech, got %v", sink.all())
			}
		})
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	p := newProvider()
	p.subErr = location.ErrUnavailable
	e := New(p, &recordingSink{})

	err := e.Start(context.Background(), twoStepRoute())
	if !errors.Is(err, ErrLocationUnavailable) {
		t.Fatalf("expected ErrLocationUnavailable, got %v", err)
	}
	if e.Status().Status != StatusIdle {
		t.Errorf("expected idle, got %v", e.Status().Status)
	}
}

func TestStartWhileActive(t *testing.T) {
	p := newProvider()
	e := New(p, &recordingSink{})
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(context.Background(), twoStepRoute()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if p.count() != 1 {
		t.Errorf("expected a single subscription, got %d", p.count())
	}
}

func TestStartUsesWatchConfig(t *testing.T) {
	p := newProvider()
	e := New(p, &recordingSink{})
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cfg := p.last().cfg
	if cfg.Accuracy != location.AccuracyHigh || cfg.MinDistanceMeters != 10 {
		t.Errorf("unexpected watch config %+v", cfg)
	}
	snap := e.Status()
	if snap.Status != StatusActive || snap.StepIndex != 0 || snap.Steps != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestJourneyWalkthrough(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	m := &countingMetrics{}
	e := New(p, sink, WithMetrics(m))
	r := twoStepRoute()
	if err := e.Start(context.Background(), r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.last()

	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0})
	if got := sink.all(); len(got) != 1 || got[0] != instruction.Format(r.Steps[0]) {
		t.Fatalf("expected step 0 instruction, got %v", got)
	}
	if snap := e.Status(); snap.StepIndex != 1 || snap.Status != StatusActive {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// ~71 m from the second trigger point.
	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0.00036})
	if len(sink.all()) != 1 || e.Status().StepIndex != 1 {
		t.Fatalf("fix outside the radius must not trigger, got %v", sink.all())
	}

	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0.001})
	want := []string{
		"Take bus 12 from A at 09:00. Get off at B at 09:20.",
		"Walk to destination (10 m)",
		instruction.Arrival(),
	}
	got := sink.all()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("utterance %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if e.Status().Status != StatusStopped {
		t.Errorf("expected stopped after arrival, got %v", e.Status().Status)
	}
	if sub.cancelCount() != 1 {
		t.Errorf("expected subscription cancelled once, got %d", sub.cancelCount())
	}
	select {
	case <-e.Done():
	default:
		t.Error("expected Done to be closed after arrival")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != 1 || m.steps != 2 || m.ended["arrived"] != 1 || m.fixes != 3 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestOneAdvancePerFix(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)
	r := route.Route{Steps: []route.Step{
		walkStep(0, 0, "first"),
		walkStep(0, 0.00001, "second"),
		walkStep(0, 0.00002, "third"),
	}}
	if err := e.Start(context.Background(), r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.last()

	// Within 40 m of all three trigger points.
	fix := geo.Coordinate{Lat: 0, Lon: 0.00001}
	for i := 1; i <= 2; i++ {
		sub.onFix(fix)
		if idx := e.Status().StepIndex; idx != i {
			t.Fatalf("after fix %d expected index %d, got %d", i, i, idx)
		}
		if n := len(sink.all()); n != i {
			t.Fatalf("after fix %d expected %d utterances, got %d", i, i, n)
		}
	}
	sub.onFix(fix)
	got := sink.all()
	if len(got) != 4 || got[0] != "first (10 m)" || got[1] != "second (10 m)" || got[2] != "third (10 m)" || got[3] != instruction.Arrival() {
		t.Errorf("unexpected utterances %v", got)
	}
}

func TestThresholdBoundary(t *testing.T) {
	if withinTrigger(ProximityMeters) {
		t.Error("exactly 40 m must not trigger")
	}
	if !withinTrigger(39.999) {
		t.Error("39.999 m must trigger")
	}

	tests := []struct {
		name    string
		meters  float64
		trigger bool
	}{
		{"just inside", 39.99, true},
		{"just outside", 40.01, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider()
			sink := &recordingSink{}
			e := New(p, sink)
			r := route.Route{Steps: []route.Step{walkStep(0, 0, "a"), walkStep(1, 1, "b")}}
			if err := e.Start(context.Background(), r); err != nil {
				t.Fatalf("Start: %v", err)
			}
			fix := geo.Coordinate{Lat: 0, Lon: lonAt(tt.meters)}
			if d := geo.DistanceMeters(fix, r.Steps[0].TriggerPoint); math.Abs(d-tt.meters) > 1e-6 {
				t.Fatalf("test fix is %.9f m away, want %.2f", d, tt.meters)
			}
			p.last().onFix(fix)
			if got := e.Status().StepIndex == 1; got != tt.trigger {
				t.Errorf("trigger at %.2f m: expected %v, got %v", tt.meters, tt.trigger, got)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)

	e.Stop()
	if len(sink.all()) != 0 {
		t.Fatalf("stop while idle must be silent, got %v", sink.all())
	}

	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()
	e.Stop()

	if n := sink.countOf(instruction.Stopped()); n != 1 {
		t.Errorf("expected one stopped announcement, got %d", n)
	}
	if sink.countOf(instruction.Arrival()) != 0 {
		t.Error("manual stop must not announce arrival")
	}
	if c := p.last().cancelCount(); c != 1 {
		t.Errorf("expected one cancel, got %d", c)
	}
	snap := e.Status()
	if snap.Status != StatusStopped || snap.StepIndex != 0 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestArrivalDoesNotAnnounceStop(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)
	if err := e.Start(context.Background(), route.Route{Steps: []route.Step{walkStep(0, 0, "go")}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.last().onFix(geo.Coordinate{})
	e.Stop()

	if sink.countOf(instruction.Arrival()) != 1 {
		t.Errorf("expected arrival announcement, got %v", sink.all())
	}
	if sink.countOf(instruction.Stopped()) != 0 {
		t.Errorf("arrival must not announce stop, got %v", sink.all())
	}
}

func TestFixesIgnoredOutsideActiveSession(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := p.last()
	e.Stop()

	first.onFix(geo.Coordinate{})
	if got := sink.all(); len(got) != 1 || got[0] != instruction.Stopped() {
		t.Fatalf("fix after stop must be ignored, got %v", got)
	}

	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.count() != 2 {
		t.Fatalf("expected a fresh subscription, got %d", p.count())
	}
	if snap := e.Status(); snap.Status != StatusActive || snap.StepIndex != 0 {
		t.Fatalf("restart must begin at step 0, got %+v", snap)
	}

	// A late fix from the first journey must not advance the second.
	first.onFix(geo.Coordinate{})
	if e.Status().StepIndex != 0 {
		t.Error("stale subscription advanced the new session")
	}
	p.last().onFix(geo.Coordinate{})
	if e.Status().StepIndex != 1 {
		t.Error("current subscription should advance the new session")
	}
}

func TestNonFiniteFixIgnored(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.last().onFix(geo.Coordinate{Lat: math.NaN(), Lon: 0})
	if len(sink.all()) != 0 || e.Status().StepIndex != 0 {
		t.Errorf("NaN fix must be ignored")
	}
}

func TestLocationErrorReported(t *testing.T) {
	p := newProvider()
	var mu sync.Mutex
	var reported []error
	e := New(p, &recordingSink{}, WithUnavailableHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	if err := e.Start(context.Background(), twoStepRoute()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.last()
	sub.onErr(location.ErrUnavailable)

	if e.Status().Status != StatusActive {
		t.Error("location error must not stop navigation")
	}
	e.Stop()
	sub.onErr(location.ErrUnavailable)

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("expected one report, got %v", reported)
	}
	if !errors.Is(reported[0], ErrLocationUnavailable) {
		t.Errorf("expected ErrLocationUnavailable, got %v", reported[0])
	}
}

func TestConcurrentFixesAndStop(t *testing.T) {
	p := newProvider()
	sink := &recordingSink{}
	e := New(p, sink)

	const steps = 200
	r := route.Route{}
	for i := 0; i < steps; i++ {
		r.Steps = append(r.Steps, walkStep(0, 0, fmt.Sprintf("step %d", i)))
	}
	if err := e.Start(context.Background(), r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.last()

	var wg sync.WaitGroup
	stopFeeding := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopFeeding:
					return
				default:
					sub.onFix(geo.Coordinate{})
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	e.Stop()
	after := len(sink.all())
	sub.onFix(geo.Coordinate{})
	close(stopFeeding)
	wg.Wait()

	got := sink.all()
	if len(got) != after {
		t.Fatalf("speech emitted after Stop returned: %d before, %d after", after, len(got))
	}
	// Instructions are spoken in route order with no duplicates.
	last := got[len(got)-1]
	if last != instruction.Stopped() && last != instruction.Arrival() {
		t.Errorf("expected a terminal announcement last, got %q", last)
	}
	for i, text := range got[:len(got)-1] {
		if text == instruction.Arrival() {
			continue
		}
		if want := fmt.Sprintf("step %d (10 m)", i); text != want {
			t.Fatalf("utterance %d: expected %q, got %q", i, want, text)
		}
	}
}

func TestMonotonicAdvancement(t *testing.T) {
	p := newProvider()
	e := New(p, &recordingSink{})
	r := route.Route{}
	for i := 0; i < 5; i++ {
		r.Steps = append(r.Steps, walkStep(0, float64(i)*0.001, fmt.Sprintf("s%d", i)))
	}
	if err := e.Start(context.Background(), r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fixes := []geo.Coordinate{
		{Lat: 0, Lon: 0.003}, {Lat: 0, Lon: 0}, {Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.002},
		{Lat: 0, Lon: 0.001}, {Lat: 0, Lon: 0.0005}, {Lat: 0, Lon: 0.002}, {Lat: 0, Lon: 0.003},
	}
	prev := 0
	for i, f := range fixes {
		p.last().onFix(f)
		snap := e.Status()
		if snap.Status != StatusActive {
			break
		}
		if snap.StepIndex < prev || snap.StepIndex > prev+1 {
			t.Fatalf("fix %d moved index from %d to %d", i, prev, snap.StepIndex)
		}
		prev = snap.StepIndex
	}
	if prev != 4 {
		t.Errorf("expected to reach the last step, got index %d", prev)
	}
}

func TestStatusAndStopDoNotWaitForSlowPermission(t *testing.T) {
	p := newProvider()
	p.permGate = make(chan struct{})
	e := New(p, &recordingSink{})

	started := make(chan error, 1)
	go func() { started <- e.Start(context.Background(), twoStepRoute()) }()

	answered := make(chan Snapshot, 1)
	go func() {
		e.Stop()
		answered <- e.Status()
	}()
	select {
	case snap := <-answered:
		if snap.Status != StatusIdle {
			t.Errorf("expected idle while Start is pending, got %v", snap.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked behind a pending permission check")
	}

	close(p.permGate)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := e.Status().Status; got != StatusActive {
		t.Errorf("expected active after Start returned, got %v", got)
	}
}

func TestConcurrentStartsAdmitOne(t *testing.T) {
	p := newProvider()
	p.permGate = make(chan struct{})
	e := New(p, &recordingSink{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- e.Start(context.Background(), twoStepRoute()) }()
	}
	close(p.permGate)

	var ok, already int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyActive):
			already++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || already != 1 || p.count() != 1 {
		t.Errorf("expected one session, got ok=%d already=%d subscriptions=%d", ok, already, p.count())
	}
}

func TestArrivalSurvivesFullSpeechQueue(t *testing.T) {
	release := make(chan struct{})
	sink := &recordingSink{}
	var once sync.Once
	gated := speech.Func(func(text string) {
		once.Do(func() { <-release })
		sink.Speak(text)
	})
	q := speech.NewQueue(gated, 1, nil)

	p := newProvider()
	e := New(p, q)
	r := route.Route{Steps: []route.Step{
		walkStep(0, 0, "first"),
		walkStep(0, 0.001, "second"),
		walkStep(0, 0.002, "third"),
	}}
	if err := e.Start(context.Background(), r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.last()
	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0})
	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0.001})
	sub.onFix(geo.Coordinate{Lat: 0, Lon: 0.002})
	if got := e.Status().Status; got != StatusStopped {
		t.Fatalf("expected stopped after the last step, got %v", got)
	}

	close(release)
	q.Close()
	got := sink.all()
	if len(got) == 0 || got[len(got)-1] != instruction.Arrival() {
		t.Errorf("expected the arrival sentence to be delivered last, got %v", got)
	}
}
