package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/publisher"
)

// NATSProvider reads position fixes published as publisher.PositionMessage on one subject.
// Losing the connection (RECONNECTING, DISCONNECTED or CLOSED) is reported to every
// subscription's onErr as ErrUnavailable.
type NATSProvider struct {
	nc         *nats.Conn
	subject    string
	permission Permission

	mu       sync.Mutex
	watching bool
	nextID   int
	onErrs   map[int]func(error)
}

// NewNATSProvider watches subject on nc. granted is the location permission the host holds.
func NewNATSProvider(nc *nats.Conn, subject string, granted bool) *NATSProvider {
	perm := PermissionDenied
	if granted {
		perm = PermissionGranted
	}
	return &NATSProvider{nc: nc, subject: subject, permission: perm, onErrs: make(map[int]func(error))}
}

func (p *NATSProvider) CheckPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionUndetermined, err
	}
	return p.permission, nil
}

func (p *NATSProvider) Subscribe(ctx context.Context, cfg WatchConfig, onFix func(geo.Coordinate), onErr func(error)) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.nc.IsConnected() {
		return nil, fmt.Errorf("%w: nats connection %s", ErrUnavailable, p.nc.Status())
	}
	filter := NewDistanceFilter(cfg.MinDistanceMeters)
	var cancelled atomic.Bool
	sub, err := p.nc.Subscribe(p.subject, func(m *nats.Msg) {
		if cancelled.Load() {
			return
		}
		fix, err := decodeFix(m.Data)
		if err != nil {
			log.Printf("drop fix subject=%s: %v", m.Subject, err)
			return
		}
		if filter.Allow(fix) {
			onFix(fix)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if onErr != nil {
		p.onErrs[id] = func(err error) {
			if !cancelled.Load() {
				onErr(err)
			}
		}
	}
	p.watchStatus()
	p.mu.Unlock()

	log.Printf("watching fixes subject=%s accuracy=%s min_distance=%.0fm", p.subject, cfg.Accuracy, cfg.MinDistanceMeters)
	return NewHandle(func() {
		cancelled.Store(true)
		p.mu.Lock()
		delete(p.onErrs, id)
		p.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			log.Printf("unsubscribe %s: %v", p.subject, err)
		}
	}), nil
}

// watchStatus starts the provider's single status listener. It lives until the connection
// closes: nats.Conn.RemoveStatusListener drops every listener on the connection, so cancelled
// subscriptions leave p.onErrs instead. nats.go also drops a listener whose channel still holds
// an unread status, so handlers run off the receiving goroutine. Callers hold p.mu.
func (p *NATSProvider) watchStatus() {
	if p.watching {
		return
	}
	p.watching = true
	status := p.nc.StatusChanged(nats.RECONNECTING, nats.DISCONNECTED, nats.CLOSED)
	go func() {
		for st := range status {
			go p.report(fmt.Errorf("%w: nats connection %s", ErrUnavailable, st))
			if st == nats.CLOSED {
				return
			}
		}
	}()
}

func (p *NATSProvider) report(err error) {
	p.mu.Lock()
	handlers := make([]func(error), 0, len(p.onErrs))
	for _, fn := range p.onErrs {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

// CurrentPosition waits for the next fix on the subject. Bound it with a context deadline.
func (p *NATSProvider) CurrentPosition(ctx context.Context) (geo.Coordinate, error) {
	sub, err := p.nc.SubscribeSync(p.subject)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer sub.Unsubscribe()
	for {
		m, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		fix, err := decodeFix(m.Data)
		if err != nil {
			log.Printf("drop fix subject=%s: %v", m.Subject, err)
			continue
		}
		return fix, nil
	}
}

func decodeFix(data []byte) (geo.Coordinate, error) {
	var msg publisher.PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return geo.Coordinate{}, err
	}
	fix := geo.Coordinate{Lat: msg.Lat, Lon: msg.Lon}
	if !fix.Valid() {
		return geo.Coordinate{}, errors.New("non-finite coordinate")
	}
	return fix, nil
}
