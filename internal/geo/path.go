package geo

// CumulativeDistances returns, for every point of path, the distance travelled from path[0].
func CumulativeDistances(path []Coordinate) []float64 {
	n := len(path)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += DistanceMeters(path[i-1], path[i])
		cum[i] = sum
	}
	return cum
}

// Interpolate walks dist meters along path and returns the position reached and the bearing of
// the segment it lies on. cum must come from CumulativeDistances(path).
func Interpolate(path []Coordinate, cum []float64, dist float64) (Coordinate, float64) {
	n := len(path)
	if n == 0 {
		return Coordinate{}, 0
	}
	if n == 1 {
		return path[0], 0
	}
	total := cum[n-1]
	if total == 0 || dist <= 0 {
		return path[0], BearingDegrees(path[0], path[1])
	}
	if dist >= total {
		return path[n-1], BearingDegrees(path[n-2], path[n-1])
	}
	// find segment
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	p0, p1 := path[i-1], path[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, BearingDegrees(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	pos := Coordinate{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}
	return pos, BearingDegrees(p0, p1)
}
