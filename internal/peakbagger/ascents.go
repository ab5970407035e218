package peakbagger

import (
	"context"
	"slices"
	"time"

	"peaklogger/internal/logging"
)

// Logged pairs a peak with the Peakbagger ascent that records it.
type Logged struct {
	PeakID   int64
	AscentID int64
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (c *Client) ascentsOnDate(ctx context.Context, climberID int64, date time.Time) ([]Logged, error) {
	ascents, err := c.Ascents(ctx, climberID)
	if err != nil {
		return nil, err
	}
	var out []Logged
	for _, a := range ascents {
		if sameDay(a.Date, date) {
			out = append(out, Logged{PeakID: a.PeakID, AscentID: a.AscentID})
		}
	}
	return out, nil
}

// ClimbsAlreadyLogged returns the climber's ascents on date for any of peakIDs.
func (c *Client) ClimbsAlreadyLogged(ctx context.Context, climber Climber, peakIDs []int64, date time.Time) ([]Logged, error) {
	onDate, err := c.ascentsOnDate(ctx, climber.ID, date)
	if err != nil {
		return nil, err
	}
	var out []Logged
	for _, l := range onDate {
		if slices.Contains(peakIDs, l.PeakID) {
			out = append(out, l)
		}
	}
	return out, nil
}

// AddAscentsForClimber makes sure each of peakIDs has an ascent on date,
// reusing ascents already recorded that day. Peaks Peakbagger refuses are
// left out of the result.
func (c *Client) AddAscentsForClimber(ctx context.Context, climber Climber, peakIDs []int64, date time.Time, public bool) ([]Logged, error) {
	onDate, err := c.ascentsOnDate(ctx, climber.ID, date)
	if err != nil {
		return nil, err
	}

	var logged []Logged
	already := make(map[int64]bool, len(onDate))
	for _, l := range onDate {
		already[l.PeakID] = true
		if slices.Contains(peakIDs, l.PeakID) {
			logged = append(logged, l)
		}
	}

	for _, pid := range peakIDs {
		if already[pid] {
			continue
		}
		aid, err := c.AddAscent(ctx, climber, date, pid, "", public)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("peak_id", pid).Msg("add ascent failed")
			continue
		}
		if aid != 0 {
			logged = append(logged, Logged{PeakID: pid, AscentID: aid})
		}
	}
	return logged, nil
}
