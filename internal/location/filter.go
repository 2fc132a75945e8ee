package location

import (
	"sync"

	"bus-navigator/internal/geo"
)

// DistanceFilter passes a fix only when it is at least min meters from the last passed fix.
type DistanceFilter struct {
	min float64

	mu   sync.Mutex
	last geo.Coordinate
	seen bool
}

func NewDistanceFilter(minMeters float64) *DistanceFilter {
	return &DistanceFilter{min: minMeters}
}

// Allow reports whether fix should be delivered and remembers it if so.
func (f *DistanceFilter) Allow(fix geo.Coordinate) bool {
	if !fix.Valid() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen && f.min > 0 && geo.DistanceMeters(f.last, fix) < f.min {
		return false
	}
	f.last = fix
	f.seen = true
	return true
}
