// Package description maintains the "Summited Peaks" block peaklogger
// appends to Strava activity descriptions.
package description

import (
	"context"
	"math"
	"strconv"
	"strings"

	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/strava"
)

const (
	Marker    = "Summited Peaks:"
	SiteURL   = "https://peaklogger.app"
	SnowGlyph = "🏔 "
	BaldGlyph = "⛰️  "

	FeetPerMeter = 3.280839895
	// Peaks above 2000 m get the snow-capped glyph.
	snowThresholdFeet = 2000 * FeetPerMeter
)

type Units int

const (
	Metric Units = iota
	Imperial
)

// UnitsFor maps a Peakbagger unit preference ("m" or "ft") to Units.
// Anything else is metric.
func UnitsFor(pref string) Units {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "ft", "feet":
		return Imperial
	default:
		return Metric
	}
}

type Peak struct {
	Name        string
	ElevationFt float64
}

func FormatElevation(feet float64, units Units) string {
	if units == Imperial {
		return strconv.FormatFloat(math.Round(feet), 'f', -1, 64) + " ft"
	}
	return strconv.FormatFloat(math.Floor(feet/FeetPerMeter), 'f', -1, 64) + " m"
}

func peakLine(p Peak, units Units) string {
	glyph := BaldGlyph
	if p.ElevationFt > snowThresholdFeet {
		glyph = SnowGlyph
	}
	return glyph + p.Name + " " + FormatElevation(p.ElevationFt, units)
}

// Build returns existing with any previous peak block replaced by one
// listing peaks. Lines that follow the marker are dropped while they start
// with a peak glyph or the site URL; the first other line ends the block.
// With no peaks the old block is removed and nothing is added. The result
// always ends with an empty line.
func Build(existing string, peaks []Peak, units Units) string {
	var kept []string
	if trimmed := strings.TrimSpace(existing); trimmed != "" {
		stripping := false
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == Marker {
				stripping = true
				continue
			}
			if stripping && isBlockLine(line) {
				continue
			}
			stripping = false
			kept = append(kept, line)
		}
	}
	for len(kept) > 0 && kept[len(kept)-1] == "" {
		kept = kept[:len(kept)-1]
	}

	lines := kept
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	if len(peaks) > 0 {
		lines = append(lines, Marker)
		for _, p := range peaks {
			lines = append(lines, peakLine(p, units))
		}
		lines = append(lines, SiteURL)
	}
	// Strava's web view drops the last line of a description.
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func isBlockLine(line string) bool {
	return strings.HasPrefix(line, SnowGlyph) ||
		strings.HasPrefix(line, BaldGlyph) ||
		strings.HasPrefix(line, SiteURL)
}

type Updater interface {
	UpdateActivity(ctx context.Context, token string, id int64, update strava.Update) (bool, error)
}

// Synchronizer pushes rebuilt descriptions to Strava.
type Synchronizer struct {
	Strava Updater
}

// Sync rewrites the activity's description to list peaks. Without peaks
// nothing is sent unless force is set, and Sync reports success. The
// result is false when Strava answers with anything but 200; the error is
// reserved for transport failures.
func (s *Synchronizer) Sync(ctx context.Context, token string, activity strava.Activity, peaks []Peak, units Units, force bool) (bool, error) {
	log := logging.Ctx(ctx).With().Int64("activity_id", activity.ID).Logger()
	if len(peaks) == 0 && !force {
		log.Debug().Msg("no summits, description left as is")
		metrics.DescriptionUpdates.WithLabelValues("skipped").Inc()
		return true, nil
	}

	desc := Build(activity.Description, peaks, units)
	ok, err := s.Strava.UpdateActivity(ctx, token, activity.ID, strava.Update{Description: &desc})
	switch {
	case err != nil:
		metrics.DescriptionUpdates.WithLabelValues("error").Inc()
		return false, err
	case !ok:
		metrics.DescriptionUpdates.WithLabelValues("rejected").Inc()
		return false, nil
	}
	metrics.DescriptionUpdates.WithLabelValues("updated").Inc()
	log.Info().Int("peaks", len(peaks)).Msg("activity description updated")
	return true, nil
}
