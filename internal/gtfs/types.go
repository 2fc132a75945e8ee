package gtfs

type Stop struct {
	StopID string
	Name   string
	Lat    float64
	Lon    float64
}

// Departure is one trip that serves Board and later Alight on the same service day.
type Departure struct {
	TripID       string
	Line         string // route_short_name, falling back to long name or route_id
	Board        Stop
	Alight       Stop
	DepartureSec int     // seconds since midnight at Board (can exceed 24h)
	ArrivalSec   int     // seconds since midnight at Alight (can exceed 24h)
	BoardDist    float64 // shape_dist_traveled at Board, 0 if missing
	AlightDist   float64 // shape_dist_traveled at Alight, 0 if missing
}
