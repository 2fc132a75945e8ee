package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by all distance helpers.
const EarthRadiusMeters = 6371000.0

func toRad(d float64) float64 { return d * math.Pi / 180 }

// DistanceMeters returns the great-circle distance between a and b using the haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
func BearingDegrees(a, b Coordinate) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// FormatDistance renders a distance the way directions providers label steps.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
