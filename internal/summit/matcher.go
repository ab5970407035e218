// Package summit finds the peaks an activity's path went over or close to.
package summit

import (
	"context"
	"fmt"
	"math"

	"peaklogger/internal/gps"
	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/peakbagger"
)

const (
	// SampleStrideMeters is the spacing of nearby-peak lookups along the path.
	SampleStrideMeters = 10_000.0
	// CloseMeters bounds the band of peaks reported as close but not summited.
	CloseMeters = 200.0
	// PeaksPerSample is how many nearest peaks each lookup asks for.
	PeaksPerSample = 30
)

type PeakFinder interface {
	NearbyPeaks(ctx context.Context, lat, lon float64, n int) ([]peakbagger.Peak, error)
}

// Match is a candidate peak with its closest approach to the path, in meters.
type Match struct {
	Peak peakbagger.Peak
	Dist float64
}

// Result splits candidates into summited (closer than the detection radius)
// and close (closer than CloseMeters). Both keep discovery order.
type Result struct {
	Summited []Match
	Close    []Match
}

// Peaks returns every matched peak, summited first.
func (r Result) Peaks() []peakbagger.Peak {
	out := make([]peakbagger.Peak, 0, len(r.Summited)+len(r.Close))
	for _, m := range r.Summited {
		out = append(out, m.Peak)
	}
	for _, m := range r.Close {
		out = append(out, m.Peak)
	}
	return out
}

type Matcher struct {
	Peaks PeakFinder
}

// MatchPolyline decodes an encoded polyline and matches it.
func (m *Matcher) MatchPolyline(ctx context.Context, encoded string, radius float64) (Result, error) {
	path, err := gps.DecodePolyline(encoded)
	if err != nil {
		return Result{}, fmt.Errorf("decode path: %w", err)
	}
	return m.Match(ctx, path, radius)
}

// Match looks up peaks near the path every SampleStrideMeters, ending with a
// lookup at the last point, and classifies each distinct peak by its
// distance to the path. A failed lookup only loses that sample's peaks; the
// returned error is non-nil only when ctx is done.
func (m *Matcher) Match(ctx context.Context, path []gps.Point, radius float64) (Result, error) {
	if len(path) == 0 {
		return Result{}, nil
	}

	candidates, err := m.candidates(ctx, path)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, peak := range candidates {
		dist := gps.DistanceToLineMeters(gps.Point{Lat: peak.Lat, Lon: peak.Lon}, path)
		switch classify(dist, radius) {
		case classSummited:
			result.Summited = append(result.Summited, Match{Peak: peak, Dist: dist})
		case classClose:
			result.Close = append(result.Close, Match{Peak: peak, Dist: dist})
		}
	}

	metrics.SummitsDetected.Add(float64(len(result.Summited)))
	logging.Ctx(ctx).Debug().
		Int("candidates", len(candidates)).
		Int("summited", len(result.Summited)).
		Int("close", len(result.Close)).
		Float64("radius_m", radius).
		Msg("summit match complete")
	return result, nil
}

type class int

const (
	classFar class = iota
	classClose
	classSummited
)

// classify applies both bounds strictly: a peak exactly radius away is not
// summited and one exactly CloseMeters away is not close.
func classify(dist, radius float64) class {
	switch {
	case dist < radius:
		return classSummited
	case dist < CloseMeters:
		return classClose
	default:
		return classFar
	}
}

func (m *Matcher) candidates(ctx context.Context, path []gps.Point) ([]peakbagger.Peak, error) {
	length := gps.LengthMeters(path)
	seen := make(map[int64]bool)
	var ordered []peakbagger.Peak

	travelled := 0.0
	for {
		travelled += SampleStrideMeters
		at := gps.Along(path, math.Min(travelled, length))

		nearby, err := m.Peaks.NearbyPeaks(ctx, at.Lat, at.Lon, PeaksPerSample)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Ctx(ctx).Warn().Err(err).
				Float64("lat", at.Lat).
				Float64("lon", at.Lon).
				Msg("nearby peak lookup failed")
		}
		for _, p := range nearby {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			ordered = append(ordered, p)
		}

		if travelled >= length {
			break
		}
	}
	return ordered, nil
}
