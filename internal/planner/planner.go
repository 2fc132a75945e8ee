// Package planner picks the route source named by configuration and plans the journey.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"

	"bus-navigator/internal/config"
	"bus-navigator/internal/db"
	"bus-navigator/internal/directions"
	"bus-navigator/internal/route"
)

// Source opens the route source cfg.RouteSource names. The returned func releases whatever it
// opened and is never nil.
func Source(ctx context.Context, cfg *config.Config) (route.Source, func(), error) {
	noop := func() {}
	switch cfg.RouteSource {
	case "file":
		return route.FileSource{Path: cfg.RouteFile}, noop, nil
	case "directions":
		return directions.NewClient(cfg.DirectionsURL, cfg.DirectionsKey), noop, nil
	case "timetable":
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("db open: %w", err)
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, noop, fmt.Errorf("db ping: %w", err)
		}
		return db.NewTimetableSource(sqlDB, cfg.Location), func() { sqlDB.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown route source %q", cfg.RouteSource)
	}
}

// Plan asks src for a journey and checks it can be navigated.
func Plan(ctx context.Context, src route.Source, origin, destination string) (route.Route, error) {
	r, err := src.Plan(ctx, origin, destination)
	if err != nil {
		if errors.Is(err, route.ErrNoRouteFound) {
			return route.Route{}, fmt.Errorf("no bus route from %q to %q: %w", origin, destination, err)
		}
		return route.Route{}, err
	}
	if err := r.Validate(); err != nil {
		return route.Route{}, fmt.Errorf("planned route: %w", err)
	}
	log.Printf("route planned steps=%d arrival=%q", r.Len(), r.ArrivalTime)
	return r, nil
}
