package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"peaklogger/internal/logging"
	"peaklogger/internal/session"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

const (
	stateCookie        = "strava_oauth_state"
	modeCookie         = "peaklogger_strava_oauth_mode"
	existingUserCookie = "existing_user_id"
	oauthCookieMaxAge  = 10 * 60

	modeLogin    = "login"
	modeUpdate   = "update"
	modeRegister = "register"

	activityScopes = "activity:read,activity:write"
)

// loginScopes returns the scopes requested for mode. Signing in asks for
// nothing; everything else needs activity read and write.
func loginScopes(mode string, allScope bool) []string {
	switch mode {
	case modeLogin:
		return nil
	case modeUpdate:
		if allScope {
			return []string{activityScopes + ",activity:read_all"}
		}
	}
	return []string{activityScopes}
}

func (s *Server) setOAuthCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// LoginStrava starts the OAuth dance. mode is login, update or register;
// anything else registers.
func (s *Server) LoginStrava(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode != modeLogin && mode != modeUpdate {
		mode = modeRegister
	}
	allScope := r.URL.Query().Get("all_scope") == "add"

	state := uuid.NewString()
	s.setOAuthCookie(w, stateCookie, state)
	s.setOAuthCookie(w, modeCookie, mode)
	if user := currentUser(r); user != nil {
		s.setOAuthCookie(w, existingUserCookie, strconv.FormatInt(user.ID, 10))
	}

	http.Redirect(w, r, s.auth.AuthCodeURL(state, loginScopes(mode, allScope)), http.StatusFound)
}

func (s *Server) StravaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.Ctx(ctx)
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		log.Info().Str("error", errParam).Msg("strava authorization declined")
		http.Redirect(w, r, "/about", http.StatusFound)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	stored := cookieValue(r, stateCookie)
	switch {
	case code == "":
		http.Error(w, "No code", http.StatusBadRequest)
		return
	case state == "":
		http.Error(w, "No state", http.StatusBadRequest)
		return
	case stored == "":
		http.Error(w, "No storedState", http.StatusBadRequest)
		return
	case state != stored:
		http.Error(w, "No state matching stored state", http.StatusBadRequest)
		return
	}

	mode := cookieValue(r, modeCookie)
	scope := strava.ParseScopes(q.Get("scope"))
	if !strava.HasScope(scope, strava.ScopeActivityRead) || !strava.HasScope(scope, strava.ScopeActivityWrite) {
		if mode != modeLogin {
			http.Redirect(w, r, "/login/strava/scope_explanation", http.StatusFound)
			return
		}
	}

	tokens, err := s.auth.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("strava code exchange failed")
		if strava.IsAuthorizationError(err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	existing, err := s.findCallbackUser(r, tokens.Athlete.ID)
	if err != nil {
		log.Error().Err(err).Msg("user lookup failed")
		captureError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch {
	case existing != nil && mode == modeRegister:
		http.Redirect(w, r, "/login/strava/account_exists", http.StatusFound)
	case existing != nil && mode == modeLogin:
		s.startSession(w, r, existing.ID, "/recent")
	case existing != nil:
		existing.StravaAccessToken = tokens.AccessToken
		existing.StravaRefreshToken = tokens.RefreshToken
		existing.StravaTokenExpiry = tokens.ExpiresAt
		existing.StravaApprovedScope = int64(scope)
		if err := s.store.UpdateUser(ctx, *existing); err != nil {
			log.Error().Err(err).Int64("user_id", existing.ID).Msg("token update failed")
			captureError(r, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.startSession(w, r, existing.ID, "/recent")
	default:
		user, err := s.store.CreateUser(ctx, newUser(tokens, scope))
		if err != nil {
			log.Error().Err(err).Int64("strava_id", tokens.Athlete.ID).Msg("create user failed")
			captureError(r, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		log.Info().Int64("user_id", user.ID).Int64("strava_id", user.StravaID).Msg("user registered")
		s.startSession(w, r, user.ID, "/account")
	}
}

// findCallbackUser prefers the signed-in user that started the flow, moving
// it onto athleteID, and falls back to the athlete's own account.
func (s *Server) findCallbackUser(r *http.Request, athleteID int64) (*storage.User, error) {
	ctx := r.Context()
	if raw := cookieValue(r, existingUserCookie); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			user, err := s.store.GetUser(ctx, id)
			switch {
			case err == nil:
				if user.StravaID != athleteID {
					user.StravaID = athleteID
					if err := s.store.UpdateUser(ctx, user); err != nil {
						return nil, err
					}
				}
				return &user, nil
			case !errors.Is(err, storage.ErrNotFound):
				return nil, err
			}
		}
	}
	user, err := s.store.GetUserByStravaID(ctx, athleteID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func newUser(tokens strava.Tokens, scope strava.Bitfield) storage.User {
	return storage.User{
		StravaID:            tokens.Athlete.ID,
		FirstName:           tokens.Athlete.FirstName,
		LastName:            tokens.Athlete.LastName,
		DetectionRadius:     storage.DefaultDetectionRadius,
		EnabledActivities:   int64(strava.DefaultEnabledActivities()),
		UpdateDescription:   true,
		PostSummits:         true,
		AscentsArePublic:    true,
		StravaAccessToken:   tokens.AccessToken,
		StravaRefreshToken:  tokens.RefreshToken,
		StravaTokenExpiry:   tokens.ExpiresAt,
		StravaApprovedScope: int64(scope),
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID int64, next string) {
	token, err := session.GenerateToken()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	sess, err := s.sessions.Create(r.Context(), token, userID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int64("user_id", userID).Msg("create session failed")
		captureError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	session.SetCookie(w, token, sess.ExpiresAt, s.secure)
	s.clearOAuthCookies(w)
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) clearOAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, modeCookie, existingUserCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if token := session.Token(r); token != "" {
		if err := s.sessions.Invalidate(r.Context(), token); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("session invalidate failed")
		}
	}
	session.ClearCookie(w, s.secure)
	http.Redirect(w, r, "/?msg=signed+out", http.StatusFound)
}
