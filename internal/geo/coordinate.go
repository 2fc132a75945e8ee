package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether both components are finite numbers.
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// String renders the coordinate as "lat,lon", the form directions APIs accept as an origin.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// ParseCoordinate parses the "lat,lon" form produced by String. Whitespace around either
// number is ignored. ok is false for anything else, including out-of-range values.
func ParseCoordinate(s string) (c Coordinate, ok bool) {
	latS, lonS, found := strings.Cut(s, ",")
	if !found {
		return Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return Coordinate{}, false
	}
	c = Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Coordinate{}, false
	}
	return c, true
}
