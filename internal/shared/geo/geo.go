package geo

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// HaversineM is HaversineKm in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// Point is the minimal coordinate pair used by the path helpers.
type Point struct {
	Lat float64
	Lng float64
}

// PathLengthM sums consecutive segment lengths. Fewer than two points is zero.
func PathLengthM(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineM(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

// MovingAverage smooths a path with a centered window of the given width.
// The first and last points are kept as recorded.
func MovingAverage(points []Point, window int) []Point {
	if window < 2 || len(points) < 3 {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}
	half := window / 2
	out := make([]Point, len(points))
	out[0], out[len(points)-1] = points[0], points[len(points)-1]
	for i := 1; i < len(points)-1; i++ {
		lo, hi := max(0, i-half), min(len(points)-1, i+half)
		var lat, lng float64
		for j := lo; j <= hi; j++ {
			lat += points[j].Lat
			lng += points[j].Lng
		}
		n := float64(hi - lo + 1)
		out[i] = Point{Lat: lat / n, Lng: lng / n}
	}
	return out
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
