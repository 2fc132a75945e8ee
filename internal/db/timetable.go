package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/gtfs"
	"bus-navigator/internal/route"
)

// TimetableSource plans the next direct bus between two stops of a GTFS feed.
type TimetableSource struct {
	db  *sql.DB
	tz  *time.Location
	now func() time.Time
}

func NewTimetableSource(db *sql.DB, tz *time.Location) *TimetableSource {
	if tz == nil {
		tz = time.Local
	}
	return &TimetableSource{db: db, tz: tz, now: time.Now}
}

// Plan resolves origin and destination to stops (see FetchStop) and builds a two-step route
// for the first departure not earlier than now: board the bus, then get off.
func (s *TimetableSource) Plan(ctx context.Context, origin, destination string) (route.Route, error) {
	board, err := FetchStop(ctx, s.db, origin)
	if err != nil {
		return route.Route{}, noRoute(err)
	}
	alight, err := FetchStop(ctx, s.db, destination)
	if err != nil {
		return route.Route{}, noRoute(err)
	}
	if board.StopID == alight.StopID {
		return route.Route{}, fmt.Errorf("%w: origin and destination resolve to stop %s", route.ErrNoRouteFound, board.StopID)
	}

	now := s.now().In(s.tz)
	deps, err := FetchDepartures(ctx, s.db, board, alight, now)
	if err != nil {
		return route.Route{}, err
	}
	dep, ok := nextDeparture(deps, daySeconds(now))
	if !ok {
		return route.Route{}, fmt.Errorf("%w: no more departures from %s to %s today", route.ErrNoRouteFound, board.Name, alight.Name)
	}
	log.Printf("timetable trip=%s line=%s departs=%s ride=%s", dep.TripID, dep.Line, formatClock(dep.DepartureSec), geo.FormatDistance(RideMeters(dep)))

	var dest *geo.Coordinate
	if c, ok := geo.ParseCoordinate(destination); ok {
		dest = &c
	}
	return buildRoute(dep, dest), nil
}

// daySeconds is t's wall-clock time of day in seconds, the clock stop_times are written in.
// Elapsed time since midnight differs by an hour on daylight saving changes.
func daySeconds(t time.Time) int {
	h, m, sec := t.Clock()
	return h*3600 + m*60 + sec
}

func noRoute(err error) error {
	if errors.Is(err, ErrStopNotFound) {
		return fmt.Errorf("%w: %v", route.ErrNoRouteFound, err)
	}
	return err
}

// nextDeparture returns the earliest departure at or after nowSec.
func nextDeparture(deps []gtfs.Departure, nowSec int) (gtfs.Departure, bool) {
	var best gtfs.Departure
	found := false
	for _, d := range deps {
		if d.DepartureSec < nowSec {
			continue
		}
		if !found || d.DepartureSec < best.DepartureSec {
			best = d
			found = true
		}
	}
	return best, found
}

// buildRoute turns a departure into a transit step at the boarding stop followed by a walk
// step at the alighting stop. dest, when known, sizes the final walk.
func buildRoute(d gtfs.Departure, dest *geo.Coordinate) route.Route {
	boardAt := geo.Coordinate{Lat: d.Board.Lat, Lon: d.Board.Lon}
	alightAt := geo.Coordinate{Lat: d.Alight.Lat, Lon: d.Alight.Lon}

	walk := 0.0
	if dest != nil {
		walk = geo.DistanceMeters(alightAt, *dest)
	}
	arrival := formatClock(d.ArrivalSec)

	return route.Route{
		Steps: []route.Step{
			route.Transit(boardAt, route.TransitDetails{
				Line:          d.Line,
				DepartureStop: d.Board.Name,
				DepartureTime: formatClock(d.DepartureSec),
				ArrivalStop:   d.Alight.Name,
				ArrivalTime:   arrival,
			}),
			route.Walk(alightAt, fmt.Sprintf("Get off at <b>%s</b> and walk to your destination", d.Alight.Name), geo.FormatDistance(walk)),
		},
		ArrivalTime: arrival,
	}
}

// RideMeters is the in-vehicle distance of d, from shape_dist_traveled when the feed has
// it and the straight line between the stops otherwise.
func RideMeters(d gtfs.Departure) float64 {
	if d.AlightDist > d.BoardDist && d.BoardDist >= 0 {
		return d.AlightDist - d.BoardDist
	}
	return geo.DistanceMeters(
		geo.Coordinate{Lat: d.Board.Lat, Lon: d.Board.Lon},
		geo.Coordinate{Lat: d.Alight.Lat, Lon: d.Alight.Lon},
	)
}
