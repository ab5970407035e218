package strava

import (
	"net/url"
	"strings"

	"peaklogger/internal/logging"
)

// logRequest logs an outgoing call without its query string, which may carry credentials.
func logRequest(method, endpoint string) {
	if method == "" && endpoint == "" {
		return
	}

	safe := endpoint
	if parsed, err := url.Parse(endpoint); err == nil {
		parsed.User = nil
		parsed.RawQuery = ""
		parsed.Fragment = ""
		if parsed.Scheme != "" || parsed.Host != "" {
			safe = parsed.Scheme + "://" + parsed.Host + parsed.Path
		} else {
			safe = parsed.Path
		}
	} else if idx := strings.Index(endpoint, "?"); idx >= 0 {
		safe = endpoint[:idx]
	}

	logging.Debug().
		Str("method", strings.ToUpper(strings.TrimSpace(method))).
		Str("endpoint", safe).
		Msg("strava request")
}
