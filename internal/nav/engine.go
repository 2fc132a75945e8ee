// Package nav runs turn-by-turn journey navigation: it consumes position fixes, speaks each
// step's instruction when the traveler reaches its trigger point and detects arrival.
package nav

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/instruction"
	"bus-navigator/internal/location"
	"bus-navigator/internal/route"
	"bus-navigator/internal/speech"
)

// ProximityMeters is the radius around a trigger point inside which a step fires.
const ProximityMeters = 40.0

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrAlreadyActive       = errors.New("navigation already active")
	ErrLocationUnavailable = errors.New("location unavailable")
)

// DefaultWatchConfig is the subscription the engine opens unless WithWatchConfig overrides it.
var DefaultWatchConfig = location.WatchConfig{Accuracy: location.AccuracyHigh, MinDistanceMeters: 10}

type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Snapshot is a read-only view of the engine for UI binding.
type Snapshot struct {
	Status    Status
	StepIndex int
	Steps     int
}

// Metrics receives engine events. All methods must be safe for concurrent use.
type Metrics interface {
	SessionStarted()
	SessionEnded(reason string)
	PermissionDenied()
	FixProcessed(d time.Duration)
	StepAdvanced()
	LocationError()
}

type Option func(*Engine)

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithUnavailableHandler receives subscription failures reported after Start. Errors wrap
// ErrLocationUnavailable. The session stays active; the handler decides whether to Stop.
func WithUnavailableHandler(fn func(error)) Option {
	return func(e *Engine) { e.onUnavailable = fn }
}

func WithWatchConfig(cfg location.WatchConfig) Option {
	return func(e *Engine) { e.watch = cfg }
}

// session is one journey from Start to Stopped. Position callbacks hold a pointer to it and
// compare it with Engine.session, so fixes from an earlier journey never touch a later one.
type session struct {
	route  route.Route
	status Status
	index  int
	handle location.Handle
	done   chan struct{}
}

// Engine is the navigation state machine. A zero Engine is not usable; call New.
type Engine struct {
	provider      location.Provider
	sink          speech.Sink
	metrics       Metrics
	onUnavailable func(error)
	watch         location.WatchConfig

	startMu sync.Mutex // serialises Start
	mu      sync.Mutex // guards session
	session *session
}

// New builds an engine. sink.Speak is called with the engine lock held and must not block. The
// arrival and stop sentences go through speech.SpeakFinal, so a speech.Queue never drops them.
func New(provider location.Provider, sink speech.Sink, opts ...Option) *Engine {
	e := &Engine{provider: provider, sink: sink, watch: DefaultWatchConfig}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins navigating r. It fails without subscribing when r is invalid, a session is
// already active, or location permission is not granted. It does not wait for a first fix.
// The provider is consulted without the engine lock, so Status and Stop stay responsive; a
// Stop issued before Start returns has nothing to stop.
func (e *Engine) Start(ctx context.Context, r route.Route) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("start navigation: %w", err)
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.active() {
		return ErrAlreadyActive
	}

	perm, err := e.provider.CheckPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if perm != location.PermissionGranted {
		if e.metrics != nil {
			e.metrics.PermissionDenied()
		}
		return fmt.Errorf("%w: permission %s", ErrPermissionDenied, perm)
	}

	s := &session{
		route:  route.Route{Steps: append([]route.Step(nil), r.Steps...), ArrivalTime: r.ArrivalTime},
		status: StatusActive,
		done:   make(chan struct{}),
	}
	// Fixes delivered before s is installed below fail the current-session check and are dropped.
	h, err := e.provider.Subscribe(ctx, e.watch,
		func(fix geo.Coordinate) { e.onPositionUpdate(s, fix) },
		func(err error) { e.onWatchError(s, err) },
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	e.mu.Lock()
	s.handle = h
	e.session = s
	if e.metrics != nil {
		e.metrics.SessionStarted()
	}
	e.mu.Unlock()

	log.Printf("navigation started steps=%d", len(s.route.Steps))
	return nil
}

func (e *Engine) active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil && e.session.status == StatusActive
}

// Stop ends the active session and announces it. It is a no-op when nothing is active. Once
// Stop returns no further instruction is spoken for that session.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil || s.status != StatusActive {
		return
	}
	e.finish(s, "stopped")
	speech.SpeakFinal(e.sink, instruction.Stopped())
}

// Status returns the state of the most recent session.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return Snapshot{Status: StatusIdle}
	}
	return Snapshot{Status: s.status, StepIndex: s.index, Steps: len(s.route.Steps)}
}

// Done returns a channel closed when the most recent session stops. It is nil while idle.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	return e.session.done
}

func (e *Engine) onPositionUpdate(s *session, fix geo.Coordinate) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != s || s.status != StatusActive || !fix.Valid() {
		return
	}
	if e.metrics != nil {
		defer func() { e.metrics.FixProcessed(time.Since(start)) }()
	}

	step := s.route.Steps[s.index]
	if !withinTrigger(geo.DistanceMeters(fix, step.TriggerPoint)) {
		return
	}

	e.sink.Speak(instruction.Format(step))
	s.index++
	if e.metrics != nil {
		e.metrics.StepAdvanced()
	}
	log.Printf("navigation step %d/%d reached", s.index, len(s.route.Steps))

	if s.index == len(s.route.Steps) {
		speech.SpeakFinal(e.sink, instruction.Arrival())
		e.finish(s, "arrived")
	}
}

func (e *Engine) onWatchError(s *session, err error) {
	e.mu.Lock()
	current := e.session == s && s.status == StatusActive
	e.mu.Unlock()
	if !current {
		return
	}

	if e.metrics != nil {
		e.metrics.LocationError()
	}
	log.Printf("navigation location error: %v", err)
	if e.onUnavailable != nil {
		e.onUnavailable(fmt.Errorf("%w: %w", ErrLocationUnavailable, err))
	}
}

// finish moves s to Stopped and releases its subscription. Callers hold e.mu.
func (e *Engine) finish(s *session, reason string) {
	s.handle.Cancel()
	s.status = StatusStopped
	s.index = 0
	close(s.done)
	if e.metrics != nil {
		e.metrics.SessionEnded(reason)
	}
	log.Printf("navigation %s", reason)
}

func withinTrigger(d float64) bool {
	return d < ProximityMeters
}
