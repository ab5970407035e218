// Package sentry forwards unexpected errors to Sentry when a DSN is configured.
package sentry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"peaklogger/internal/logging"
)

type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Init is a no-op when no DSN is configured.
func Init(cfg Config) error {
	if cfg.DSN == "" {
		logging.Debug().Msg("sentry dsn not configured, error tracking disabled")
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	logging.Info().Str("environment", cfg.Environment).Msg("sentry initialized")
	return nil
}

func Enabled() bool {
	return sentry.CurrentHub().Client() != nil
}

// CaptureException reports err with the given tags attached to its scope.
func CaptureException(err error, tags map[string]string) {
	if err == nil || !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		sentry.CaptureException(err)
	})
}

func Flush(timeout time.Duration) bool {
	if !Enabled() {
		return true
	}
	return sentry.Flush(timeout)
}
