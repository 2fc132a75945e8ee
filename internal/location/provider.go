// Package location defines the position-stream contract the navigation engine consumes and
// ships a NATS-backed implementation of it.
package location

import (
	"context"
	"errors"
	"sync"

	"bus-navigator/internal/geo"
)

var ErrUnavailable = errors.New("location unavailable")

type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Accuracy is the precision a watcher asks the platform for.
type Accuracy int

const (
	AccuracyLow Accuracy = iota + 1
	AccuracyBalanced
	AccuracyHigh
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLow:
		return "low"
	case AccuracyBalanced:
		return "balanced"
	case AccuracyHigh:
		return "high"
	default:
		return "unset"
	}
}

// WatchConfig configures a position subscription. Fixes closer than MinDistanceMeters to the
// previously delivered fix are not delivered.
type WatchConfig struct {
	Accuracy          Accuracy
	MinDistanceMeters float64
}

// Handle releases a subscription. Cancel may be called any number of times.
type Handle interface {
	Cancel()
}

// Provider supplies permission state, one-shot positions and position subscriptions.
//
// Subscribe must not invoke onFix or onErr before it returns; fixes for one subscription are
// delivered one at a time.
type Provider interface {
	CheckPermission(ctx context.Context) (Permission, error)
	Subscribe(ctx context.Context, cfg WatchConfig, onFix func(geo.Coordinate), onErr func(error)) (Handle, error)
	CurrentPosition(ctx context.Context) (geo.Coordinate, error)
}

type handle struct {
	once    sync.Once
	release func()
}

// NewHandle returns a Handle that runs release on the first Cancel only.
func NewHandle(release func()) Handle {
	return &handle{release: release}
}

func (h *handle) Cancel() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
