package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"peaklogger/internal/config"
	"peaklogger/internal/strava"
)

type fakeEnsurer struct {
	calls   int
	replace bool
	err     error
}

func (f *fakeEnsurer) EnsureSubscription(ctx context.Context, callbackURL, verifyToken string, replace bool) (strava.SubscriptionAction, *strava.Subscription, error) {
	f.calls++
	f.replace = replace
	if f.err != nil {
		return "", nil, f.err
	}
	return strava.SubscriptionCreated, &strava.Subscription{ID: 9, CallbackURL: callbackURL}, nil
}

func readyStravaConfig() config.StravaConfig {
	return config.StravaConfig{
		ClientID:            "id",
		ClientSecret:        "secret",
		VerifyToken:         "verify",
		WebhookCallbackURL:  "https://peaks.example/api/strava_webhook",
		WebhookAutoRegister: true,
	}
}

func TestWebhookRegistrarSkipReason(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.StravaConfig)
		want   string
	}{
		{name: "ready", mutate: func(*config.StravaConfig) {}, want: ""},
		{name: "disabled", mutate: func(c *config.StravaConfig) { c.WebhookAutoRegister = false }, want: "disabled"},
		{name: "no callback", mutate: func(c *config.StravaConfig) { c.WebhookCallbackURL = "" }, want: "BASE_URL not set"},
		{name: "no verify token", mutate: func(c *config.StravaConfig) { c.VerifyToken = "" }, want: "STRAVA_VERIFY_TOKEN not set"},
		{name: "no secret", mutate: func(c *config.StravaConfig) { c.ClientSecret = "" }, want: "Strava client credentials missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := readyStravaConfig()
			tt.mutate(&cfg)
			assert.Equal(t, tt.want, (&webhookRegistrar{cfg: cfg}).skipReason())
		})
	}
}

func TestWebhookRegistrarRunsOnce(t *testing.T) {
	tests := []struct {
		name      string
		cfg       func() config.StravaConfig
		err       error
		wantCalls int
	}{
		{name: "registers", cfg: readyStravaConfig, wantCalls: 1},
		{name: "mismatch", cfg: readyStravaConfig, err: strava.ErrSubscriptionMismatch, wantCalls: 1},
		{name: "failure", cfg: readyStravaConfig, err: errors.New("strava down"), wantCalls: 1},
		{
			name: "skipped",
			cfg: func() config.StravaConfig {
				c := readyStravaConfig()
				c.WebhookAutoRegister = false
				return c
			},
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ensurer := &fakeEnsurer{err: tt.err}
			r := &webhookRegistrar{cfg: tt.cfg(), client: ensurer, timeout: time.Second}

			err := r.Serve(context.Background())
			require.ErrorIs(t, err, suture.ErrDoNotRestart)
			assert.Equal(t, tt.wantCalls, ensurer.calls)
		})
	}
}

func TestWebhookRegistrarPassesReplace(t *testing.T) {
	cfg := readyStravaConfig()
	cfg.WebhookAutoReplace = true
	ensurer := &fakeEnsurer{}
	r := &webhookRegistrar{cfg: cfg, client: ensurer, timeout: time.Second}

	require.ErrorIs(t, r.Serve(context.Background()), suture.ErrDoNotRestart)
	assert.True(t, ensurer.replace)
	assert.Equal(t, "strava-webhook-registrar", r.String())
}
