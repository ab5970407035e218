package processor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"peaklogger/internal/description"
	"peaklogger/internal/logging"
	"peaklogger/internal/peakbagger"
	"peaklogger/internal/storage"
	"peaklogger/internal/summit"
)

// Import analyzes a user-chosen activity regardless of its sport type.
func (s *Service) Import(ctx context.Context, user *storage.User, activityID int64, opts *Options) (Analysis, error) {
	return s.Analyze(ctx, user, activityID, false, opts)
}

// Reanalyze runs a fresh analysis and, with RemoveAscents, deletes the
// Peakbagger ascents logged earlier for peaks no longer summited.
func (s *Service) Reanalyze(ctx context.Context, user *storage.User, activityID int64, opts *Options) (Analysis, error) {
	o := resolve(*user, opts)

	var previous []storage.LoggedAscent
	prev, err := s.Store.GetActivity(ctx, user.StravaID, activityID)
	switch {
	case err == nil:
		previous = prev.LoggedAscents
	case !errors.Is(err, storage.ErrNotFound):
		return Analysis{}, err
	}

	analysis, err := s.Analyze(ctx, user, activityID, false, &o)
	if err != nil {
		return Analysis{}, err
	}
	if !o.RemoveAscents {
		return analysis, nil
	}

	var outdated []storage.LoggedAscent
	for _, a := range previous {
		stillSummited := slices.ContainsFunc(analysis.Result.Summited, func(m summit.Match) bool { return m.Peak.ID == a.PeakID })
		if !stillSummited {
			outdated = append(outdated, a)
		}
	}
	s.deleteAscents(ctx, *user, outdated)
	return analysis, nil
}

// AddSummit promotes a nearby peak to summited. It reports false when the
// activity or the peak is unknown.
func (s *Service) AddSummit(ctx context.Context, user *storage.User, activityID, peakID int64, date time.Time, opts *Options) (bool, error) {
	o := resolve(*user, opts)
	record, err := s.Store.GetActivity(ctx, user.StravaID, activityID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	idx := slices.IndexFunc(record.NearbyPeaks, func(p storage.PeakDistance) bool { return p.PeakID == peakID })
	if idx < 0 {
		return false, nil
	}
	record.SummitedPeaks = append(record.SummitedPeaks, record.NearbyPeaks[idx])
	record.NearbyPeaks = slices.Delete(record.NearbyPeaks, idx, idx+1)

	if o.PostAscents {
		if climber, ok := s.climber(ctx, *user); ok {
			aid, err := s.Peakbagger.AddAscent(ctx, climber, date, peakID, "", o.PublicAscents)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Int64("peak_id", peakID).Msg("add ascent failed")
			} else if aid > 0 {
				record.LoggedAscents = append(record.LoggedAscents, storage.LoggedAscent{PeakID: peakID, AscentID: aid})
			}
		}
	}

	if o.UpdateDescription {
		s.rewriteDescription(ctx, user, activityID, record.SummitedPeaks)
	}

	record.UpdatedAt = time.Now()
	if err := s.Store.PutActivity(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveSummit demotes a summited peak back to nearby. With RemoveAscents
// the matching Peakbagger ascent is deleted too.
func (s *Service) RemoveSummit(ctx context.Context, user *storage.User, activityID, peakID int64, opts *Options) (bool, error) {
	o := resolve(*user, opts)
	record, err := s.Store.GetActivity(ctx, user.StravaID, activityID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	idx := slices.IndexFunc(record.SummitedPeaks, func(p storage.PeakDistance) bool { return p.PeakID == peakID })
	if idx < 0 {
		return false, nil
	}
	record.NearbyPeaks = append(record.NearbyPeaks, record.SummitedPeaks[idx])
	record.SummitedPeaks = slices.Delete(record.SummitedPeaks, idx, idx+1)

	if o.RemoveAscents {
		if i := slices.IndexFunc(record.LoggedAscents, func(a storage.LoggedAscent) bool { return a.PeakID == peakID }); i >= 0 {
			s.deleteAscents(ctx, *user, record.LoggedAscents[i:i+1])
			record.LoggedAscents = slices.Delete(record.LoggedAscents, i, i+1)
		}
	}

	if o.UpdateDescription {
		s.rewriteDescription(ctx, user, activityID, record.SummitedPeaks)
	}

	record.UpdatedAt = time.Now()
	if err := s.Store.PutActivity(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteActivity forgets an analyzed activity, optionally deleting its
// Peakbagger ascents and clearing the peak block from its description.
func (s *Service) DeleteActivity(ctx context.Context, user *storage.User, activityID int64, opts *Options) (bool, error) {
	o := resolve(*user, opts)
	record, err := s.Store.GetActivity(ctx, user.StravaID, activityID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if o.RemoveAscents {
		s.deleteAscents(ctx, *user, record.LoggedAscents)
	}
	if o.UpdateDescription {
		s.rewriteDescription(ctx, user, activityID, nil)
	}
	if err := s.Store.DeleteActivity(ctx, user.StravaID, activityID); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAccount revokes Strava access and removes everything stored for
// the user. A failed revocation is logged and does not stop the deletion.
func (s *Service) DeleteAccount(ctx context.Context, user *storage.User) error {
	log := logging.Ctx(ctx).With().Int64("user_id", user.ID).Logger()
	if s.Auth != nil {
		token, err := s.Tokens.ValidAccessToken(ctx, user)
		if err == nil {
			err = s.Auth.Deauthorize(ctx, token)
		}
		if err != nil {
			log.Warn().Err(err).Msg("strava deauthorize failed")
		}
	}

	if err := s.Store.DeleteUserActivities(ctx, user.StravaID); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	if err := s.Store.DeleteUserSessions(ctx, user.ID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := s.Store.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	log.Info().Msg("account deleted")
	return nil
}

// LinkClimber verifies Peakbagger credentials and stores them, with the
// password encrypted, on the user.
func (s *Service) LinkClimber(ctx context.Context, user *storage.User, email, password string) error {
	info, err := s.Peakbagger.Login(ctx, email, password)
	if err != nil {
		return err
	}
	sealed, err := peakbagger.EncryptPassword(user.ID, password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	user.PBEmail = email
	user.PBPassword = sealed
	user.PBClimberID = info.ClimberID
	user.PBUsername = info.Username
	user.PBUnits = info.Units
	return s.Store.UpdateUser(ctx, *user)
}

func (s *Service) UnlinkClimber(ctx context.Context, user *storage.User) error {
	user.PBEmail = ""
	user.PBPassword = ""
	user.PBClimberID = 0
	user.PBUsername = ""
	user.PBUnits = ""
	return s.Store.UpdateUser(ctx, *user)
}

func (s *Service) deleteAscents(ctx context.Context, user storage.User, ascents []storage.LoggedAscent) {
	if len(ascents) == 0 {
		return
	}
	climber, ok := s.climber(ctx, user)
	if !ok {
		return
	}
	for _, a := range ascents {
		deleted, err := s.Peakbagger.DeleteAscent(ctx, climber, a.AscentID)
		if err != nil || !deleted {
			logging.Ctx(ctx).Warn().Err(err).Int64("ascent_id", a.AscentID).Msg("delete ascent failed")
		}
	}
}

// rewriteDescription forces the description block to list peaks, using the
// stored peak details. Failures are logged.
func (s *Service) rewriteDescription(ctx context.Context, user *storage.User, activityID int64, peaks []storage.PeakDistance) {
	log := logging.Ctx(ctx).With().Int64("activity_id", activityID).Logger()

	ids := make([]int64, 0, len(peaks))
	for _, p := range peaks {
		ids = append(ids, p.PeakID)
	}
	known, err := s.Store.GetPeaks(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("load peaks for description failed")
		return
	}
	lines := make([]description.Peak, 0, len(known))
	for _, p := range known {
		lines = append(lines, description.Peak{Name: p.Name, ElevationFt: p.ElevationFt})
	}

	token, err := s.Tokens.ValidAccessToken(ctx, user)
	if err != nil {
		log.Warn().Err(err).Msg("access token for description failed")
		return
	}
	activity, err := s.Strava.GetActivity(ctx, token, activityID)
	if err != nil {
		log.Warn().Err(err).Msg("fetch activity for description failed")
		return
	}
	if _, err := s.Descriptions.Sync(ctx, token, activity, lines, description.UnitsFor(user.PBUnits), true); err != nil {
		log.Warn().Err(err).Msg("description update failed")
	}
}
