// Package ingest backfills the analysis queue from an athlete's Strava
// activity history.
package ingest

import (
	"context"
	"fmt"

	"peaklogger/internal/logging"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

const (
	defaultPerPage = 50
	maxQueuePages  = 10
)

type ActivityLister interface {
	ListActivities(ctx context.Context, token string, perPage, page int) ([]strava.Activity, error)
	ListEnabledActivities(ctx context.Context, token string, enabled strava.Bitfield, perPage, page int) ([]strava.Activity, error)
}

type TokenSource interface {
	ValidAccessToken(ctx context.Context, user *storage.User) (string, error)
}

type Ingestor struct {
	Store   storage.Store
	Strava  ActivityLister
	Tokens  TokenSource
	PerPage int
}

// Recent returns one page of the athlete's activities whose sport type is
// enabled, newest first.
func (i *Ingestor) Recent(ctx context.Context, user *storage.User, page int) ([]strava.Activity, error) {
	token, err := i.Tokens.ValidAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return i.Strava.ListEnabledActivities(ctx, token, strava.Bitfield(user.EnabledActivities), i.perPage(), page)
}

// QueueRecent enqueues up to pages pages of enabled activities that have
// not been analyzed yet. It returns how many were queued.
func (i *Ingestor) QueueRecent(ctx context.Context, user *storage.User, pages int) (int, error) {
	if pages <= 0 {
		pages = 1
	}
	pages = min(pages, maxQueuePages)
	token, err := i.Tokens.ValidAccessToken(ctx, user)
	if err != nil {
		return 0, err
	}

	enabled := strava.Bitfield(user.EnabledActivities)
	queued := 0
	for page := 1; page <= pages; page++ {
		activities, err := i.Strava.ListActivities(ctx, token, i.perPage(), page)
		if err != nil {
			return queued, fmt.Errorf("list page %d: %w", page, err)
		}
		for _, a := range activities {
			if !strava.ActivityEnabled(enabled, a.SportType) {
				continue
			}
			if _, err := i.Store.GetActivity(ctx, user.StravaID, a.ID); err == nil {
				continue
			}
			if err := i.Store.EnqueueActivity(ctx, user.StravaID, a.ID); err != nil {
				return queued, fmt.Errorf("enqueue %d: %w", a.ID, err)
			}
			queued++
		}
		if len(activities) < i.perPage() {
			break
		}
	}

	logging.Ctx(ctx).Info().Int64("athlete_id", user.StravaID).Int("queued", queued).Msg("backfill queued")
	return queued, nil
}

func (i *Ingestor) perPage() int {
	if i.PerPage > 0 {
		return i.PerPage
	}
	return defaultPerPage
}
