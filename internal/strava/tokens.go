package strava

import (
	"context"
	"time"

	"peaklogger/internal/logging"
	"peaklogger/internal/storage"
)

const refreshLeeway = 5 * time.Second

type UserUpdater interface {
	UpdateUser(ctx context.Context, user storage.User) error
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// TokenManager hands out access tokens, refreshing and persisting them
// when they are about to expire.
type TokenManager struct {
	OAuth Refresher
	Users UserUpdater
	Now   func() time.Time
}

// ValidAccessToken returns a usable access token for user, updating user in
// place after a refresh. A failed refresh is logged and the stale token is
// returned so the subsequent API call surfaces the authorization error.
func (m *TokenManager) ValidAccessToken(ctx context.Context, user *storage.User) (string, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if user.StravaRefreshToken == "" || user.StravaTokenExpiry.After(now().Add(refreshLeeway)) {
		return user.StravaAccessToken, nil
	}

	tokens, err := m.OAuth.Refresh(ctx, user.StravaRefreshToken)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("athlete_id", user.StravaID).Msg("strava token refresh failed")
		return user.StravaAccessToken, nil
	}

	user.StravaAccessToken = tokens.AccessToken
	user.StravaRefreshToken = tokens.RefreshToken
	user.StravaTokenExpiry = tokens.ExpiresAt
	if err := m.Users.UpdateUser(ctx, *user); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}
