// Package processor runs the per-activity operations: analysis, manual
// summit edits, deletions, and account removal.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peaklogger/internal/description"
	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/peakbagger"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
	"peaklogger/internal/summit"
)

type ActivityFetcher interface {
	GetActivity(ctx context.Context, token string, id int64) (strava.Activity, error)
}

type TokenSource interface {
	ValidAccessToken(ctx context.Context, user *storage.User) (string, error)
}

type Deauthorizer interface {
	Deauthorize(ctx context.Context, accessToken string) error
}

type Matcher interface {
	MatchPolyline(ctx context.Context, encoded string, radius float64) (summit.Result, error)
}

type DescriptionSyncer interface {
	Sync(ctx context.Context, token string, activity strava.Activity, peaks []description.Peak, units description.Units, force bool) (bool, error)
}

// AscentLog is the subset of the Peakbagger client the processor drives.
type AscentLog interface {
	Login(ctx context.Context, email, password string) (peakbagger.LoginInfo, error)
	AddAscent(ctx context.Context, climber peakbagger.Climber, date time.Time, peakID int64, tripReport string, public bool) (int64, error)
	DeleteAscent(ctx context.Context, climber peakbagger.Climber, ascentID int64) (bool, error)
	ClimbsAlreadyLogged(ctx context.Context, climber peakbagger.Climber, peakIDs []int64, date time.Time) ([]peakbagger.Logged, error)
	AddAscentsForClimber(ctx context.Context, climber peakbagger.Climber, peakIDs []int64, date time.Time, public bool) ([]peakbagger.Logged, error)
}

// Options are per-call overrides of the user's saved settings.
type Options struct {
	UpdateDescription bool
	PostAscents       bool
	PublicAscents     bool
	RemoveAscents     bool
	DetectionRadius   float64
}

// DefaultOptions returns the user's saved settings. Ascents are never
// removed unless asked for explicitly.
func DefaultOptions(user storage.User) Options {
	return Options{
		UpdateDescription: user.UpdateDescription,
		PostAscents:       user.PostSummits,
		PublicAscents:     user.AscentsArePublic,
		DetectionRadius:   user.DetectionRadius,
	}
}

func resolve(user storage.User, opts *Options) Options {
	o := DefaultOptions(user)
	if opts != nil {
		o = *opts
	}
	if o.DetectionRadius <= 0 {
		o.DetectionRadius = storage.DefaultDetectionRadius
	}
	return o
}

type Service struct {
	Store        storage.Store
	Strava       ActivityFetcher
	Tokens       TokenSource
	Auth         Deauthorizer
	Matcher      Matcher
	Descriptions DescriptionSyncer
	Peakbagger   AscentLog
}

// Analysis is what one Analyze call found and saved.
type Analysis struct {
	Activity strava.Activity
	Result   summit.Result
	Logged   []storage.LoggedAscent
	// Skipped is set when the activity's sport type is not enabled.
	Skipped bool
}

// Analyze fetches an activity, matches its path against nearby peaks,
// records ascents on Peakbagger when a climber is linked, stores the
// outcome and, when asked, rewrites the Strava description. With checkType
// set, activities of sport types the user has not enabled are skipped.
// opts nil means the user's saved settings.
func (s *Service) Analyze(ctx context.Context, user *storage.User, activityID int64, checkType bool, opts *Options) (Analysis, error) {
	start := time.Now()
	o := resolve(*user, opts)
	log := logging.Ctx(ctx).With().Int64("athlete_id", user.StravaID).Int64("activity_id", activityID).Logger()

	token, err := s.Tokens.ValidAccessToken(ctx, user)
	if err != nil {
		metrics.Analyses.WithLabelValues("error").Inc()
		return Analysis{}, fmt.Errorf("access token: %w", err)
	}
	activity, err := s.Strava.GetActivity(ctx, token, activityID)
	if err != nil {
		metrics.Analyses.WithLabelValues("error").Inc()
		return Analysis{}, fmt.Errorf("fetch activity %d: %w", activityID, err)
	}

	if checkType && !strava.ActivityEnabled(strava.Bitfield(user.EnabledActivities), activity.SportType) {
		log.Info().Str("sport_type", activity.SportType).Msg("sport type not enabled, skipping")
		metrics.Analyses.WithLabelValues("skipped").Inc()
		return Analysis{Activity: activity, Skipped: true}, nil
	}

	result, err := s.Matcher.MatchPolyline(ctx, activity.Path(), o.DetectionRadius)
	if err != nil {
		metrics.Analyses.WithLabelValues("error").Inc()
		return Analysis{}, fmt.Errorf("match activity %d: %w", activityID, err)
	}

	logged := s.syncAscents(ctx, *user, result, activity.LocalDate(), o)

	if err := s.save(ctx, *user, activity, result, logged); err != nil {
		metrics.Analyses.WithLabelValues("error").Inc()
		return Analysis{}, err
	}

	if o.UpdateDescription {
		peaks := make([]description.Peak, 0, len(result.Summited))
		for _, m := range result.Summited {
			peaks = append(peaks, description.Peak{Name: m.Peak.Name, ElevationFt: m.Peak.ElevationFt})
		}
		if _, err := s.Descriptions.Sync(ctx, token, activity, peaks, description.UnitsFor(user.PBUnits), false); err != nil {
			log.Warn().Err(err).Msg("description update failed")
		}
	}

	metrics.Analyses.WithLabelValues("ok").Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Int("summited", len(result.Summited)).
		Int("close", len(result.Close)).
		Int("logged", len(logged)).
		Msg("activity analyzed")
	return Analysis{Activity: activity, Result: result, Logged: logged}, nil
}

// syncAscents posts the summits to Peakbagger, or only looks up the ones
// already there when posting is off. Failures are logged and yield nil.
func (s *Service) syncAscents(ctx context.Context, user storage.User, result summit.Result, date time.Time, o Options) []storage.LoggedAscent {
	climber, ok := s.climber(ctx, user)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(result.Summited))
	for _, m := range result.Summited {
		ids = append(ids, m.Peak.ID)
	}

	var (
		logged []peakbagger.Logged
		err    error
	)
	if o.PostAscents {
		logged, err = s.Peakbagger.AddAscentsForClimber(ctx, climber, ids, date, o.PublicAscents)
	} else {
		logged, err = s.Peakbagger.ClimbsAlreadyLogged(ctx, climber, ids, date)
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("climber_id", climber.ID).Msg("peakbagger ascent sync failed")
		return nil
	}

	out := make([]storage.LoggedAscent, 0, len(logged))
	for _, l := range logged {
		out = append(out, storage.LoggedAscent{PeakID: l.PeakID, AscentID: l.AscentID})
	}
	return out
}

func (s *Service) save(ctx context.Context, user storage.User, activity strava.Activity, result summit.Result, logged []storage.LoggedAscent) error {
	peaks := make([]storage.Peak, 0, len(result.Summited)+len(result.Close))
	for _, p := range result.Peaks() {
		peaks = append(peaks, storage.Peak{
			ID:          p.ID,
			Name:        p.Name,
			ElevationFt: p.ElevationFt,
			Lat:         p.Lat,
			Lon:         p.Lon,
			Prominence:  p.Prominence,
		})
	}
	if err := s.Store.UpsertPeaks(ctx, peaks); err != nil {
		return fmt.Errorf("save peaks: %w", err)
	}

	record := storage.Activity{
		ID:              activity.ID,
		UserStravaID:    user.StravaID,
		Name:            activity.Name,
		SportType:       activity.SportType,
		StartDate:       activity.StartDate,
		StartDateLocal:  activity.StartDateLocal,
		SummaryPolyline: activity.SummaryPolyline,
		SummitedPeaks:   distances(result.Summited),
		NearbyPeaks:     distances(result.Close),
		LoggedAscents:   logged,
	}
	if err := s.Store.PutActivity(ctx, record); err != nil {
		return fmt.Errorf("save activity %d: %w", activity.ID, err)
	}
	return nil
}

func distances(matches []summit.Match) []storage.PeakDistance {
	out := make([]storage.PeakDistance, 0, len(matches))
	for _, m := range matches {
		out = append(out, storage.PeakDistance{PeakID: m.Peak.ID, Dist: m.Dist})
	}
	return out
}

// climber returns the user's Peakbagger credentials, if linked and readable.
func (s *Service) climber(ctx context.Context, user storage.User) (peakbagger.Climber, bool) {
	if s.Peakbagger == nil || !user.HasClimber() {
		return peakbagger.Climber{}, false
	}
	password, err := peakbagger.DecryptPassword(user.ID, user.PBPassword)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("user_id", user.ID).Msg("stored peakbagger password unreadable")
		return peakbagger.Climber{}, false
	}
	return peakbagger.Climber{ID: user.PBClimberID, Email: user.PBEmail, Password: password}, true
}

// Process analyzes an activity for the athlete that owns it, honouring the
// athlete's enabled sport types. Unknown athletes are ignored.
func (s *Service) Process(ctx context.Context, userStravaID, activityID int64) error {
	user, err := s.Store.GetUserByStravaID(ctx, userStravaID)
	if errors.Is(err, storage.ErrNotFound) {
		logging.Ctx(ctx).Info().Int64("athlete_id", userStravaID).Msg("no user for athlete, dropping activity")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Analyze(ctx, &user, activityID, true, nil)
	return err
}
