package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"peaklogger/internal/config"
	"peaklogger/internal/logging"
	"peaklogger/internal/strava"
)

type subscriptionEnsurer interface {
	EnsureSubscription(ctx context.Context, callbackURL, verifyToken string, replace bool) (strava.SubscriptionAction, *strava.Subscription, error)
}

// webhookRegistrar makes sure Strava pushes activity events to this
// deployment. It runs once under the supervisor and is not restarted.
type webhookRegistrar struct {
	cfg     config.StravaConfig
	client  subscriptionEnsurer
	timeout time.Duration
}

func newWebhookRegistrar(cfg config.StravaConfig) *webhookRegistrar {
	return &webhookRegistrar{
		cfg: cfg,
		client: &strava.WebhookClient{
			BaseURL:      cfg.BaseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		},
		timeout: 20 * time.Second,
	}
}

// skipReason names the missing setting that prevents registration, if any.
func (r *webhookRegistrar) skipReason() string {
	switch {
	case !r.cfg.WebhookAutoRegister:
		return "disabled"
	case r.cfg.WebhookCallbackURL == "":
		return "BASE_URL not set"
	case r.cfg.VerifyToken == "":
		return "STRAVA_VERIFY_TOKEN not set"
	case r.cfg.ClientID == "" || r.cfg.ClientSecret == "":
		return "Strava client credentials missing"
	}
	return ""
}

func (r *webhookRegistrar) Serve(ctx context.Context) error {
	if reason := r.skipReason(); reason != "" {
		logging.Info().Str("reason", reason).Msg("webhook registration skipped")
		return suture.ErrDoNotRestart
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := logging.Logger().With().Str("callback_url", r.cfg.WebhookCallbackURL).Logger()
	action, sub, err := r.client.EnsureSubscription(ctx, r.cfg.WebhookCallbackURL, r.cfg.VerifyToken, r.cfg.WebhookAutoReplace)
	switch {
	case errors.Is(err, strava.ErrSubscriptionMismatch):
		log.Warn().Msg("another webhook subscription exists; set STRAVA_WEBHOOK_AUTO_REPLACE=true to replace it")
	case err != nil:
		log.Error().Err(err).Msg("webhook registration failed")
	default:
		log.Info().Str("action", string(action)).Int64("subscription_id", sub.ID).Msg("webhook subscription ready")
	}
	return suture.ErrDoNotRestart
}

func (r *webhookRegistrar) String() string {
	return "strava-webhook-registrar"
}
