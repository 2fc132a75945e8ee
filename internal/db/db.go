package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrStopNotFound is returned when a stop reference matches nothing in the feed.
var ErrStopNotFound = errors.New("stop not found")

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchStop resolves ref to a stop. ref is either "lat,lon" (nearest stop wins) or a stop_id
// or stop name; an exact stop_id match is preferred over a name match.
func FetchStop(ctx context.Context, db *sql.DB, ref string) (gtfs.Stop, error) {
	latExpr, lonExpr, err := stopCoordColumns(ctx, db)
	if err != nil {
		return gtfs.Stop{}, err
	}

	var row *sql.Row
	if c, ok := geo.ParseCoordinate(ref); ok {
		// Equirectangular ordering; good enough to pick the closest stop within a city.
		q := fmt.Sprintf(`
SELECT s.stop_id, COALESCE(s.stop_name, ''), %[1]s, %[2]s
FROM stops s
ORDER BY power(%[1]s - $1, 2) + power((%[2]s - $2) * $3, 2)
LIMIT 1`, latExpr, lonExpr)
		row = db.QueryRowContext(ctx, q, c.Lat, c.Lon, math.Cos(c.Lat*math.Pi/180))
	} else {
		q := fmt.Sprintf(`
SELECT s.stop_id, COALESCE(s.stop_name, ''), %s, %s
FROM stops s
WHERE s.stop_id = $1 OR lower(s.stop_name) = lower($1)
ORDER BY (s.stop_id = $1) DESC
LIMIT 1`, latExpr, lonExpr)
		row = db.QueryRowContext(ctx, q, strings.TrimSpace(ref))
	}

	var st gtfs.Stop
	if err := row.Scan(&st.StopID, &st.Name, &st.Lat, &st.Lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gtfs.Stop{}, fmt.Errorf("%w: %q", ErrStopNotFound, ref)
		}
		return gtfs.Stop{}, fmt.Errorf("query stop: %w", err)
	}
	if st.Name == "" {
		st.Name = st.StopID
	}
	return st, nil
}

// FetchDepartures lists every trip running on now's service day that calls at board and,
// later in the same trip, at alight.
func FetchDepartures(ctx context.Context, db *sql.DB, board, alight gtfs.Stop, now time.Time) ([]gtfs.Departure, error) {
	serviceIDs, err := fetchActiveServiceIDs(ctx, db, now)
	if err != nil {
		return nil, err
	}
	if len(serviceIDs) == 0 {
		return nil, nil
	}

	q := `
SELECT t.trip_id,
       COALESCE(NULLIF(r.route_short_name, ''), NULLIF(r.route_long_name, ''), r.route_id),
       COALESCE(a.departure_time::text, a.arrival_time::text, ''),
       COALESCE(b.arrival_time::text, b.departure_time::text, ''),
       COALESCE(a.shape_dist_traveled, 0),
       COALESCE(b.shape_dist_traveled, 0)
FROM stop_times a
JOIN stop_times b ON b.trip_id = a.trip_id AND b.stop_sequence > a.stop_sequence
JOIN trips t ON t.trip_id = a.trip_id
JOIN routes r ON r.route_id = t.route_id
WHERE a.stop_id = $1 AND b.stop_id = $2 AND t.service_id = ANY($3)`

	rows, err := db.QueryContext(ctx, q, board.StopID, alight.StopID, pqArray(serviceIDs))
	if err != nil {
		return nil, fmt.Errorf("query departures: %w", err)
	}
	defer rows.Close()

	var deps []gtfs.Departure
	for rows.Next() {
		d := gtfs.Departure{Board: board, Alight: alight}
		var dep, arr string
		if err := rows.Scan(&d.TripID, &d.Line, &dep, &arr, &d.BoardDist, &d.AlightDist); err != nil {
			return nil, err
		}
		d.DepartureSec = parseDaySeconds(dep)
		d.ArrivalSec = parseDaySeconds(arr)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func fetchActiveServiceIDs(ctx context.Context, db *sql.DB, now time.Time) ([]string, error) {
	date := now.Format("2006-01-02")
	dow := int(now.Weekday()) // 0=Sunday

	// calendar has booleans (0/1). calendar_dates has exception_type (1 add, 2 remove)
	q := `
WITH base AS (
  SELECT service_id
  FROM calendar
  WHERE start_date <= $1::date AND end_date >= $1::date
    AND (
      ($2 = 0 AND (sunday::text IN ('1','t','true','available'))) OR
      ($2 = 1 AND (monday::text IN ('1','t','true','available'))) OR
      ($2 = 2 AND (tuesday::text IN ('1','t','true','available'))) OR
      ($2 = 3 AND (wednesday::text IN ('1','t','true','available'))) OR
      ($2 = 4 AND (thursday::text IN ('1','t','true','available'))) OR
      ($2 = 5 AND (friday::text IN ('1','t','true','available'))) OR
      ($2 = 6 AND (saturday::text IN ('1','t','true','available')))
    )
), add_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('1','added'))
), rm_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('2','removed'))
), merged AS (
  SELECT service_id FROM base
  UNION
  SELECT service_id FROM add_exc
)
SELECT DISTINCT service_id FROM merged
WHERE service_id NOT IN (SELECT service_id FROM rm_exc)
`

	rows, err := db.QueryContext(ctx, q, date, dow)
	if err != nil {
		return nil, fmt.Errorf("query active services: %w", err)
	}
	defer rows.Close()
	var svc []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		svc = append(svc, s)
	}
	return svc, rows.Err()
}

// stopCoordColumns picks stop_lat/stop_lon when present, else the PostGIS stop_loc column.
// Expressions are relative to the alias "s".
func stopCoordColumns(ctx context.Context, db *sql.DB) (lat, lon string, err error) {
	cols, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return "", "", fmt.Errorf("introspect stops columns: %w", err)
	}
	return coordExprs(cols)
}

func coordExprs(cols map[string]bool) (lat, lon string, err error) {
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		return "s.stop_lat", "s.stop_lon", nil
	case cols["stop_loc"]:
		return "ST_Y(s.stop_loc::geometry)", "ST_X(s.stop_loc::geometry)", nil
	default:
		return "", "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}

// parseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func parseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

// formatClock renders seconds since midnight as a 24h "HH:MM" label, wrapping past midnight.
func formatClock(sec int) string {
	sec %= 24 * 3600
	return fmt.Sprintf("%02d:%02d", sec/3600, (sec%3600)/60)
}

func pqArray(a []string) any { return a }
