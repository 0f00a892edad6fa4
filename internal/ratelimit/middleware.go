package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResetTimeLayout is the resetTime format in 429 bodies: RFC 3339 in UTC
// with millisecond precision.
const ResetTimeLayout = "2006-01-02T15:04:05.000Z07:00"

type deniedBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ResetTime string `json:"resetTime"`
}

// Middleware admits requests under p. Admitted requests get X-RateLimit-*
// headers; denied ones get a 429 with a JSON body and Retry-After.
//
// The ClientKey is taken from the request context when an earlier
// middleware stored one, otherwise it is derived from the headers.
func (l *Limiter) Middleware(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := ClientKeyFromContext(r.Context())
			if !ok {
				key = KeyFor(r.Header)
			}

			res := l.Check(key, p)
			if !res.Allowed {
				trace.SpanFromContext(r.Context()).AddEvent("ratelimit.denied", trace.WithAttributes(
					attribute.String("ratelimit.class", string(p.Class)),
					attribute.Int("ratelimit.limit", res.Limit),
				))
				WriteDenied(w, res, l.now())
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.UnixMilli(), 10))
			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenied writes the 429 response for a denied Result.
func WriteDenied(w http.ResponseWriter, res Result, now time.Time) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Retry-After", strconv.FormatInt(RetryAfter(res.ResetTime, now), 10))
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.UnixMilli(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(deniedBody{
		Error:     "Too Many Requests",
		Message:   "Rate limit exceeded. Please try again later.",
		ResetTime: res.ResetTime.UTC().Format(ResetTimeLayout),
	})
}

// RetryAfter is the whole number of seconds until reset, rounded up and
// never negative.
func RetryAfter(reset, now time.Time) int64 {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
