package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"peaklogger/internal/config"
	"peaklogger/internal/description"
	"peaklogger/internal/ingest"
	"peaklogger/internal/logging"
	"peaklogger/internal/peakbagger"
	"peaklogger/internal/processor"
	"peaklogger/internal/sentry"
	"peaklogger/internal/session"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
	"peaklogger/internal/summit"
	"peaklogger/internal/web"
	"peaklogger/internal/webhook"
	"peaklogger/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Error().Err(err).Msg("load config")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     version,
	}); err != nil {
		logging.Warn().Err(err).Msg("sentry init failed")
	}
	defer sentry.Flush(2 * time.Second)

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("peaklogger stopped")
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	oauth := &strava.OAuth{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		AuthBaseURL:  cfg.Strava.AuthBaseURL,
		RedirectURL:  cfg.Strava.RedirectURL,
		HTTPClient:   httpClient,
	}
	stravaClient := &strava.Client{BaseURL: cfg.Strava.BaseURL, HTTPClient: httpClient}
	tokens := &strava.TokenManager{OAuth: oauth, Users: store}

	pb := &peakbagger.Client{
		BaseURL:  cfg.Peakbagger.BaseURL,
		Timeout:  cfg.Peakbagger.Timeout(),
		CacheTTL: cfg.Peakbagger.CacheTTL(),
	}
	if rps := cfg.Peakbagger.RequestsPerSecond; rps > 0 {
		pb.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	service := &processor.Service{
		Store:        store,
		Strava:       stravaClient,
		Tokens:       tokens,
		Auth:         oauth,
		Matcher:      &summit.Matcher{Peaks: pb},
		Descriptions: &description.Synchronizer{Strava: stravaClient},
		Peakbagger:   pb,
	}
	ingestor := &ingest.Ingestor{Store: store, Strava: stravaClient, Tokens: tokens}

	webServer, err := web.NewServer(web.Options{
		Store:        store,
		Sessions:     &session.Manager{Store: store},
		Auth:         oauth,
		Operations:   service,
		Importer:     ingestor,
		CookieSecure: cfg.CookieSecure,
		Webhook: &webhook.Handler{
			Store:         store,
			VerifyToken:   cfg.Strava.VerifyToken,
			SigningSecret: cfg.Strava.WebhookSecret,
		},
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           webServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	supervisor := suture.New("peaklogger", suture.Spec{
		EventHook: logSupervisorEvent,
		Timeout:   15 * time.Second,
	})
	supervisor.Add(&httpService{server: server, shutdownTimeout: 10 * time.Second})
	supervisor.Add(newWebhookRegistrar(cfg.Strava))
	supervisor.Add(&worker.Worker{
		Store:        store,
		Processor:    service,
		PollInterval: cfg.Worker.PollInterval(),
		MaxAttempts:  cfg.Worker.MaxAttempts,
	})

	logging.Info().Str("addr", cfg.ServerAddr).Str("version", version).Msg("peaklogger starting")
	err = supervisor.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		logging.Warn().Msg("using in-memory store, data is lost on restart")
		return storage.NewMemory(), nil
	}
	db, err := storage.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func logSupervisorEvent(e suture.Event) {
	switch ev := e.(type) {
	case suture.EventServicePanic:
		logging.Error().Str("service", ev.ServiceName).Str("panic", ev.PanicMsg).Msg("service panicked")
		sentry.CaptureException(errors.New(ev.PanicMsg), map[string]string{"service": ev.ServiceName})
	case suture.EventServiceTerminate:
		if err, ok := ev.Err.(error); ok && errors.Is(err, suture.ErrDoNotRestart) {
			logging.Debug().Str("service", ev.ServiceName).Msg("service finished")
			return
		}
		logging.Warn().Str("service", ev.ServiceName).Interface("err", ev.Err).Msg("service terminated")
	case suture.EventBackoff:
		logging.Warn().Str("supervisor", ev.SupervisorName).Msg("supervisor backing off")
	case suture.EventResume:
		logging.Info().Str("supervisor", ev.SupervisorName).Msg("supervisor resumed")
	default:
		logging.Debug().Str("event", e.String()).Msg("supervisor event")
	}
}
