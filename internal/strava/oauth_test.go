package strava

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaklogger/internal/storage"
)

func TestAuthCodeURL(t *testing.T) {
	o := &OAuth{ClientID: "123", AuthBaseURL: "https://auth.test", RedirectURL: "https://app.test/api/strava_callback"}

	raw := o.AuthCodeURL("state-1", []string{"activity:read,activity:write"})
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "activity:read,activity:write", q.Get("scope"))
	assert.Equal(t, "https://app.test/api/strava_callback", q.Get("redirect_uri"))

	loginOnly, err := url.Parse(o.AuthCodeURL("s", nil))
	require.NoError(t, err)
	assert.False(t, loginOnly.Query().Has("scope"))
}

func tokenServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestExchange(t *testing.T) {
	server := tokenServer(t, `{"token_type":"Bearer","access_token":"access-1","refresh_token":"refresh-1","expires_in":21600,"athlete":{"id":134815,"firstname":"Anna","lastname":"Jones"}}`, http.StatusOK)
	defer server.Close()

	o := &OAuth{ClientID: "id", ClientSecret: "secret", AuthBaseURL: server.URL}
	tokens, err := o.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, Athlete{ID: 134815, FirstName: "Anna", LastName: "Jones"}, tokens.Athlete)
	assert.WithinDuration(t, time.Now().Add(6*time.Hour), tokens.ExpiresAt, time.Minute)
}

func TestExchangeRejected(t *testing.T) {
	server := tokenServer(t, `{"message":"Bad Request","errors":[{"resource":"AuthorizationCode","code":"invalid"}]}`, http.StatusBadRequest)
	defer server.Close()

	o := &OAuth{ClientID: "id", ClientSecret: "secret", AuthBaseURL: server.URL}
	_, err := o.Exchange(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, IsAuthorizationError(err))

	_, err = (&OAuth{}).Exchange(context.Background(), "code")
	assert.Error(t, err)
}

type fakeRefresher struct {
	calls  int
	tokens Tokens
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	f.calls++
	return f.tokens, f.err
}

func TestTokenManagerRefreshesExpiringToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	user, err := store.CreateUser(ctx, storage.User{
		StravaID:           42,
		StravaAccessToken:  "old",
		StravaRefreshToken: "refresh-1",
		StravaTokenExpiry:  now.Add(3 * time.Second),
	})
	require.NoError(t, err)

	refresher := &fakeRefresher{tokens: Tokens{AccessToken: "new", RefreshToken: "refresh-2", ExpiresAt: now.Add(6 * time.Hour)}}
	manager := &TokenManager{OAuth: refresher, Users: store, Now: func() time.Time { return now }}

	token, err := manager.ValidAccessToken(ctx, &user)
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, 1, refresher.calls)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.StravaAccessToken)
	assert.Equal(t, "refresh-2", stored.StravaRefreshToken)

	// Fresh tokens are returned without another refresh.
	token, err = manager.ValidAccessToken(ctx, &stored)
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, 1, refresher.calls)
}

func TestTokenManagerKeepsOldTokenOnFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	user, err := store.CreateUser(ctx, storage.User{
		StravaID:           42,
		StravaAccessToken:  "old",
		StravaRefreshToken: "refresh-1",
		StravaTokenExpiry:  time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	manager := &TokenManager{OAuth: &fakeRefresher{err: errors.New("revoked")}, Users: store}
	token, err := manager.ValidAccessToken(ctx, &user)
	require.NoError(t, err)
	assert.Equal(t, "old", token)
}

func TestRefreshAgainstServer(t *testing.T) {
	server := tokenServer(t, `{"token_type":"Bearer","access_token":"access-2","expires_in":3600}`, http.StatusOK)
	defer server.Close()

	o := &OAuth{ClientID: "id", ClientSecret: "secret", AuthBaseURL: server.URL}
	tokens, err := o.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestDeauthorize(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth/deauthorize", r.URL.Path)
		gotToken = r.URL.Query().Get("access_token")
	}))
	defer server.Close()

	o := &OAuth{AuthBaseURL: server.URL}
	require.NoError(t, o.Deauthorize(context.Background(), "tok"))
	assert.Equal(t, "tok", gotToken)
}
