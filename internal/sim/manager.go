package sim

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/publisher"
)

var ErrEmptyPath = errors.New("empty path")

type positionPublisher interface {
	PublishPosition(prefix string, msg publisher.PositionMessage) error
}

type Metrics interface {
	WalksStartedInc()
	WalksFinishedInc()
	ActiveWalksSet(n int)
	TickObserve(d time.Duration)
}

type Options struct {
	Subject         string
	PublishInterval time.Duration
	SpeedMps        float64
	// StartHold keeps the traveler at the first point so a navigator has time to subscribe.
	StartHold time.Duration
}

// Manager walks simulated travelers along paths, one goroutine per session.
type Manager struct {
	pub     positionPublisher
	opts    Options
	metrics Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc // sessionID -> cancel
	wg      sync.WaitGroup
}

func NewManager(pub positionPublisher, opts Options, m Metrics) *Manager {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Second
	}
	return &Manager{
		pub:     pub,
		opts:    opts,
		metrics: m,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches a walk for sessionID unless one is already running. done, if not nil, is
// called when the walk ends.
func (m *Manager) Start(parent context.Context, sessionID string, path []geo.Coordinate, done func(error)) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	m.mu.Lock()
	if _, exists := m.running[sessionID]; exists {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[sessionID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.WalksStartedInc()
		m.metrics.ActiveWalksSet(len(m.running))
	}
	m.mu.Unlock()

	log.Printf("starting walk session=%s points=%d speed=%.1fm/s", sessionID, len(path), m.opts.SpeedMps)
	go func() {
		defer m.wg.Done()
		err := m.walk(ctx, sessionID, path)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("walk %s error: %v", sessionID, err)
		}
		m.mu.Lock()
		delete(m.running, sessionID)
		if m.metrics != nil {
			m.metrics.WalksFinishedInc()
			m.metrics.ActiveWalksSet(len(m.running))
		}
		m.mu.Unlock()
		cancel()
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// Stop cancels every walk and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) walk(ctx context.Context, sessionID string, path []geo.Coordinate) error {
	cum := geo.CumulativeDistances(path)
	total := cum[len(cum)-1]

	tick := time.NewTicker(m.opts.PublishInterval)
	defer tick.Stop()

	start := time.Now()
	covered := 0.0
	nextVertex := 1
	m.publish(sessionID, path, cum, 0, 0, start)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			tickStart := time.Now()
			target := travelled(now.Sub(start), m.opts.StartHold, m.opts.SpeedMps)
			if target > total {
				target = total
			}
			speed := 0.0
			if target > covered {
				speed = m.opts.SpeedMps
			}

			// Report every vertex crossed since the last tick so no trigger point is skipped at high speed.
			for nextVertex < len(cum) && cum[nextVertex] < target {
				m.publish(sessionID, path, cum, cum[nextVertex], speed, now)
				log.Printf("walk %s passed point %d/%d", sessionID, nextVertex+1, len(path))
				nextVertex++
			}
			m.publish(sessionID, path, cum, target, speed, now)
			covered = target

			if m.metrics != nil {
				m.metrics.TickObserve(time.Since(tickStart))
			}
			if covered >= total {
				log.Printf("finished walk %s after %s", sessionID, now.Sub(start).Round(time.Second))
				return nil
			}
		}
	}
}

func (m *Manager) publish(sessionID string, path []geo.Coordinate, cum []float64, dist, speed float64, at time.Time) {
	pos, bearing, progress := positionAt(path, cum, dist)
	pm := publisher.PositionMessage{
		SessionID: sessionID,
		Timestamp: at,
		Lat:       pos.Lat,
		Lon:       pos.Lon,
		Bearing:   bearing,
		Progress:  progress,
		SpeedMps:  speed,
	}
	if err := m.pub.PublishPosition(m.opts.Subject, pm); err != nil {
		log.Printf("publish error for %s: %v", sessionID, err)
	}
}

// travelled is the distance covered after elapsed, holding still for hold first.
func travelled(elapsed, hold time.Duration, speedMps float64) float64 {
	moving := elapsed - hold
	if moving <= 0 {
		return 0
	}
	return moving.Seconds() * speedMps
}

// positionAt returns where a traveler dist meters along path is, the heading there and the
// completed fraction of the path.
func positionAt(path []geo.Coordinate, cum []float64, dist float64) (geo.Coordinate, float64, float64) {
	pos, bearing := geo.Interpolate(path, cum, dist)
	total := 0.0
	if len(cum) > 0 {
		total = cum[len(cum)-1]
	}
	progress := 1.0
	if total > 0 {
		progress = dist / total
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
	}
	return pos, bearing, progress
}
