package middleware

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/metrics"
)

// sensitiveParams lists query parameter names whose values are redacted
// from access logs.
var sensitiveParams = map[string]bool{
	"token":    true,
	"key":      true,
	"secret":   true,
	"password": true,
}

func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[UNPARSEABLE]"
	}
	redacted := false
	for name, values := range params {
		if sensitiveParams[strings.ToLower(name)] {
			for i := range values {
				values[i] = "[REDACTED]"
			}
			redacted = true
		}
	}
	if !redacted {
		return rawQuery
	}
	return params.Encode()
}

// RequestLogger logs every request with zerolog and records its latency in
// m (which may be nil).  The registered route pattern is logged instead of
// the raw path, so path parameters such as download tokens never reach the
// log.
func RequestLogger(logger zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}
			latency := time.Since(start)

			req := c.Request()
			res := c.Response()
			status := res.Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			event := log.Info()
			switch {
			case status >= 500:
				event = log.Error()
			case status >= 400:
				event = log.Warn()
			}
			event.
				Str("method", req.Method).
				Str("route", route).
				Str("query", redactQueryString(req.URL.RawQuery)).
				Int("status", status).
				Dur("latency", latency).
				Str("client_ip", c.RealIP()).
				Int64("body_size", res.Size).
				Msg("request")

			m.ObserveHTTP(req.Method, route, strconv.Itoa(status), latency.Seconds())
			return nil
		}
	}
}
