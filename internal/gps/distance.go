package gps

import "math"

const earthRadiusMeters = 6371008.8

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func LengthMeters(line []Point) float64 {
	var total float64
	for i := 1; i < len(line); i++ {
		total += HaversineMeters(line[i-1], line[i])
	}
	return total
}

// Along returns the point the given distance along line, clamped to its ends.
func Along(line []Point, meters float64) Point {
	if len(line) == 0 {
		return Point{}
	}
	if meters <= 0 {
		return line[0]
	}
	var travelled float64
	for i := 1; i < len(line); i++ {
		seg := HaversineMeters(line[i-1], line[i])
		if seg > 0 && travelled+seg >= meters {
			f := (meters - travelled) / seg
			a, b := line[i-1], line[i]
			return Point{
				Lat: a.Lat + (b.Lat-a.Lat)*f,
				Lon: a.Lon + (b.Lon-a.Lon)*f,
			}
		}
		travelled += seg
	}
	return line[len(line)-1]
}

// DistanceToLineMeters returns the shortest distance from p to any segment
// of line. Each segment is projected onto a plane tangent at p, which is
// accurate to well under a meter at the few-kilometer ranges peaks are
// classified at.
func DistanceToLineMeters(p Point, line []Point) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return HaversineMeters(p, line[0])
	}

	best := math.Inf(1)
	for i := 1; i < len(line); i++ {
		ax, ay := project(p, line[i-1])
		bx, by := project(p, line[i])
		if d := originToSegment(ax, ay, bx, by); d < best {
			best = d
		}
	}
	return best
}

// project maps q to meters east/north of origin.
func project(origin, q Point) (float64, float64) {
	dLon := q.Lon - origin.Lon
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	x := toRad(dLon) * math.Cos(toRad(origin.Lat)) * earthRadiusMeters
	y := toRad(q.Lat-origin.Lat) * earthRadiusMeters
	return x, y
}

func originToSegment(ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	return math.Hypot(ax+t*dx, ay+t*dy)
}
