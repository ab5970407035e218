package gps

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metersPerDegree = math.Pi / 180 * earthRadiusMeters

func TestHaversineMeters(t *testing.T) {
	d := HaversineMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, metersPerDegree, d, 0.01)

	assert.Zero(t, HaversineMeters(Point{Lat: 49.3, Lon: -123.1}, Point{Lat: 49.3, Lon: -123.1}))
}

func TestLengthMeters(t *testing.T) {
	line := []Point{{0, 0}, {0, 0.1}, {0, 0.2}}
	assert.InDelta(t, 0.2*metersPerDegree, LengthMeters(line), 0.5)
	assert.Zero(t, LengthMeters(nil))
	assert.Zero(t, LengthMeters([]Point{{1, 1}}))
}

func TestAlong(t *testing.T) {
	line := []Point{{0, 0}, {0, 1}}
	half := Along(line, metersPerDegree/2)
	assert.InDelta(t, 0.5, half.Lon, 1e-6)
	assert.InDelta(t, 0, half.Lat, 1e-9)

	assert.Equal(t, line[0], Along(line, -5))
	assert.Equal(t, line[1], Along(line, 10*metersPerDegree))
	assert.Equal(t, Point{}, Along(nil, 10))
	assert.Equal(t, Point{Lat: 3, Lon: 4}, Along([]Point{{3, 4}}, 100))
}

func TestDistanceToLineMeters(t *testing.T) {
	line := []Point{{0, -0.01}, {0, 0.01}}

	perpendicular := DistanceToLineMeters(Point{Lat: 0.001, Lon: 0}, line)
	assert.InDelta(t, 0.001*metersPerDegree, perpendicular, 0.05)

	// Beyond the segment end the nearest point is the endpoint.
	beyond := DistanceToLineMeters(Point{Lat: 0, Lon: 0.02}, line)
	assert.InDelta(t, 0.01*metersPerDegree, beyond, 1)

	onLine := DistanceToLineMeters(Point{Lat: 0, Lon: 0.005}, line)
	assert.InDelta(t, 0, onLine, 1e-6)
}

func TestDistanceToLineMetersDegenerate(t *testing.T) {
	assert.True(t, math.IsInf(DistanceToLineMeters(Point{}, nil), 1))

	p := Point{Lat: 49.0, Lon: -123.0}
	q := Point{Lat: 49.001, Lon: -123.0}
	assert.InDelta(t, HaversineMeters(p, q), DistanceToLineMeters(p, []Point{q}), 1e-9)
	assert.InDelta(t, HaversineMeters(p, q), DistanceToLineMeters(p, []Point{q, q}), 0.01)
}

func TestDistanceToLineMetersHighLatitude(t *testing.T) {
	line := []Point{{Lat: 60, Lon: 10}, {Lat: 60, Lon: 10.02}}
	p := Point{Lat: 60.001, Lon: 10.01}
	assert.InDelta(t, 0.001*metersPerDegree, DistanceToLineMeters(p, line), 0.5)
}

func TestPolylineRoundTrip(t *testing.T) {
	// Reference string from Google's polyline documentation.
	points, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Lat, 1e-9)
	assert.InDelta(t, -120.2, points[0].Lon, 1e-9)
	assert.InDelta(t, 43.252, points[2].Lat, 1e-9)
	assert.InDelta(t, -126.453, points[2].Lon, 1e-9)

	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", EncodePolyline(points))
}

func TestDecodePolylineEmpty(t *testing.T) {
	points, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDecodePolylineMalformed(t *testing.T) {
	_, err := DecodePolyline("_p~iF~ps|U_")
	assert.Error(t, err)
}
