package geo

import "math"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Polygon is a closed ring of points. The first and last vertex do not need
// to repeat; the ring is treated as implicitly closed.
type Polygon []Point

// Contains reports whether p lies inside the polygon, using the ray casting
// rule. Points exactly on an edge may fall on either side; service areas are
// drawn with enough margin that this does not matter in practice.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return false
	}

	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		a, b := poly[i], poly[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// BoundingBox returns the min and max corners of the polygon.
func (poly Polygon) BoundingBox() (min Point, max Point) {
	min = Point{Lat: math.MaxFloat64, Lon: math.MaxFloat64}
	max = Point{Lat: -math.MaxFloat64, Lon: -math.MaxFloat64}
	for _, p := range poly {
		min.Lat = math.Min(min.Lat, p.Lat)
		min.Lon = math.Min(min.Lon, p.Lon)
		max.Lat = math.Max(max.Lat, p.Lat)
		max.Lon = math.Max(max.Lon, p.Lon)
	}
	return min, max
}

const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
