// Package web serves the HTML pages, the Strava OAuth flow and the webhook
// endpoint.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"peaklogger/internal/description"
	"peaklogger/internal/ingest"
	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/processor"
	"peaklogger/internal/sentry"
	"peaklogger/internal/session"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{
	"landing",
	"about",
	"account",
	"recent",
	"import",
	"activity",
	"scope_explanation",
	"account_exists",
}

// Authenticator is the Strava OAuth surface used by the login flow.
type Authenticator interface {
	AuthCodeURL(state string, scopes []string) string
	Exchange(ctx context.Context, code string) (strava.Tokens, error)
}

// Operations are the activity and account operations behind the forms.
type Operations interface {
	Import(ctx context.Context, user *storage.User, activityID int64, opts *processor.Options) (processor.Analysis, error)
	Reanalyze(ctx context.Context, user *storage.User, activityID int64, opts *processor.Options) (processor.Analysis, error)
	AddSummit(ctx context.Context, user *storage.User, activityID, peakID int64, date time.Time, opts *processor.Options) (bool, error)
	RemoveSummit(ctx context.Context, user *storage.User, activityID, peakID int64, opts *processor.Options) (bool, error)
	DeleteActivity(ctx context.Context, user *storage.User, activityID int64, opts *processor.Options) (bool, error)
	DeleteAccount(ctx context.Context, user *storage.User) error
	LinkClimber(ctx context.Context, user *storage.User, email, password string) error
	UnlinkClimber(ctx context.Context, user *storage.User) error
}

type Importer interface {
	Recent(ctx context.Context, user *storage.User, page int) ([]strava.Activity, error)
	QueueRecent(ctx context.Context, user *storage.User, pages int) (int, error)
}

var (
	_ Operations = (*processor.Service)(nil)
	_ Importer   = (*ingest.Ingestor)(nil)
)

type Options struct {
	Store        storage.Store
	Sessions     *session.Manager
	Auth         Authenticator
	Operations   Operations
	Importer     Importer
	Webhook      http.Handler
	CookieSecure bool
	// LoginRateLimit caps login and callback requests per IP per minute.
	// Zero means 20.
	LoginRateLimit int
	// WebhookRateLimit caps webhook deliveries per IP per minute. Zero means 300.
	WebhookRateLimit int
}

type Server struct {
	store     storage.Store
	sessions  *session.Manager
	auth      Authenticator
	ops       Operations
	importer  Importer
	webhook   http.Handler
	secure    bool
	loginRate int
	hookRate  int
	validate  *validator.Validate
	templates map[string]*template.Template
}

type PageData struct {
	Title   string
	Page    string
	Message string
	User    *storage.User
}

func NewServer(opts Options) (*Server, error) {
	funcs := template.FuncMap{
		"boolLabel": func(v bool) string {
			if v {
				return "On"
			}
			return "Off"
		},
		"pretty": strava.PrettyName,
	}
	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.New("base").Funcs(funcs).ParseFS(
			templatesFS,
			"templates/base.html",
			"templates/"+page+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", page, err)
		}
		templates[page] = t
	}
	loginRate := opts.LoginRateLimit
	if loginRate <= 0 {
		loginRate = 20
	}
	hookRate := opts.WebhookRateLimit
	if hookRate <= 0 {
		hookRate = 300
	}
	return &Server{
		store:     opts.Store,
		sessions:  opts.Sessions,
		auth:      opts.Auth,
		ops:       opts.Operations,
		importer:  opts.Importer,
		webhook:   opts.Webhook,
		secure:    opts.CookieSecure,
		loginRate: loginRate,
		hookRate:  hookRate,
		validate:  validator.New(),
		templates: templates,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loadSession)

	r.Get("/", s.Landing)
	r.Get("/about", s.About)
	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.loginRate, time.Minute))
		r.Get("/login/strava", s.LoginStrava)
		r.Get("/api/strava_callback", s.StravaCallback)
	})
	r.Get("/login/strava/scope_explanation", s.ScopeExplanation)
	r.Get("/login/strava/account_exists", s.AccountExists)

	if s.webhook != nil {
		r.With(httprate.LimitByIP(s.hookRate, time.Minute)).Handle("/api/strava_webhook", s.webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/logout", s.Logout)
		r.Get("/account", s.Account)
		r.Post("/account", s.AccountPost)
		r.Get("/recent", s.Recent)
		r.Get("/import", s.Import)
		r.Post("/import", s.ImportPost)
		r.Get("/activity/{id}", s.Activity)
		r.Post("/activity/{id}", s.ActivityPost)
	})
	return r
}

type ctxKey struct{}

// loadSession attaches the signed-in user, if any, to the request context
// and keeps the session cookie in step with the stored expiry.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.Token(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, user, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			session.ClearCookie(w, s.secure)
			next.ServeHTTP(w, r)
			return
		}
		session.SetCookie(w, token, sess.ExpiresAt, s.secure)
		ctx := context.WithValue(r.Context(), ctxKey{}, &user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == nil {
			http.Redirect(w, r, "/?msg=please+sign+in", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *storage.User {
	user, _ := r.Context().Value(ctxKey{}).(*storage.User)
	return user
}

func (s *Server) pageData(r *http.Request, title, page string) PageData {
	return PageData{
		Title:   title,
		Page:    page,
		Message: r.URL.Query().Get("msg"),
		User:    currentUser(r),
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	if err := s.templates[page].ExecuteTemplate(w, "base", data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("page", page).Msg("template render failed")
		captureError(r, err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
	}
}

func captureError(r *http.Request, err error) {
	tags := map[string]string{"method": r.Method}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		tags["route"] = rctx.RoutePattern()
	}
	sentry.CaptureException(err, tags)
}

func (s *Server) Landing(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "landing", s.pageData(r, "PeakLogger", "home"))
}

func (s *Server) About(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "about", s.pageData(r, "About", "about"))
}

func (s *Server) ScopeExplanation(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "scope_explanation", s.pageData(r, "Strava permissions", "login"))
}

func (s *Server) AccountExists(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "account_exists", s.pageData(r, "Account exists", "login"))
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func unitsFor(user *storage.User) description.Units {
	if user == nil {
		return description.Metric
	}
	return description.UnitsFor(user.PBUnits)
}
