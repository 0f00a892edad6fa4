package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func newReq(ip, ua string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	r.Header.Set("X-Forwarded-For", ip)
	r.Header.Set("User-Agent", ua)
	return r
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestMiddleware_AllowedHeaders(t *testing.T) {
	l, clk := newTestLimiter(t)
	h := l.Middleware(CustomPolicy(3, time.Minute))(okHandler)

	rec := serve(h, newReq("203.0.113.1", "ua"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("X-RateLimit-Remaining = %q", got)
	}
	wantReset := strconv.FormatInt(clk.Now().Add(time.Minute).UnixMilli(), 10)
	if got := rec.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("X-RateLimit-Reset = %q, want %q", got, wantReset)
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	l, clk := newTestLimiter(t)
	var reached int
	h := l.Middleware(CustomPolicy(1, 90*time.Second))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
	}))

	serve(h, newReq("203.0.113.1", "ua"))
	clk.Advance(500 * time.Millisecond)
	rec := serve(h, newReq("203.0.113.1", "ua"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if reached != 1 {
		t.Fatalf("handler reached %d times, want 1", reached)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	// 89.5s left rounds up
	if ra := rec.Header().Get("Retry-After"); ra != "90" {
		t.Fatalf("Retry-After = %q, want 90", ra)
	}

	reset := clk.Now().Add(-500 * time.Millisecond).Add(90 * time.Second)
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(reset.UnixMilli(), 10) {
		t.Fatalf("X-RateLimit-Reset = %q", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Too Many Requests" {
		t.Fatalf("error = %q", body["error"])
	}
	if body["message"] != "Rate limit exceeded. Please try again later." {
		t.Fatalf("message = %q", body["message"])
	}
	if body["resetTime"] != "2026-03-01T12:01:30.000Z" {
		t.Fatalf("resetTime = %q", body["resetTime"])
	}
}

func TestMiddleware_DifferentClientsIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	h := l.Middleware(CustomPolicy(1, time.Minute))(okHandler)

	serve(h, newReq("203.0.113.1", "ua"))
	if rec := serve(h, newReq("203.0.113.1", "ua")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat client status = %d, want 429", rec.Code)
	}
	if rec := serve(h, newReq("203.0.113.2", "ua")); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_UsesContextKey(t *testing.T) {
	l, _ := newTestLimiter(t)
	h := l.Middleware(CustomPolicy(1, time.Minute))(okHandler)

	// two different header sets, one stored key
	r1 := newReq("203.0.113.1", "a")
	r1 = r1.WithContext(WithClientKey(r1.Context(), "shared"))
	r2 := newReq("203.0.113.2", "b")
	r2 = r2.WithContext(WithClientKey(r2.Context(), "shared"))

	serve(h, r1)
	if rec := serve(h, r2); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for the shared context key", rec.Code)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		reset time.Time
		want  int64
	}{
		{now.Add(10 * time.Second), 10},
		{now.Add(10*time.Second + time.Millisecond), 11},
		{now.Add(time.Millisecond), 1},
		{now, 0},
		{now.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		if got := RetryAfter(tt.reset, now); got != tt.want {
			t.Errorf("RetryAfter(%v) = %d, want %d", tt.reset.Sub(now), got, tt.want)
		}
	}
}

func TestMiddleware_DenialAddsSpanEvent(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	l, _ := newTestLimiter(t)
	h := l.Middleware(CustomPolicy(1, time.Minute))(okHandler)

	for i := 0; i < 2; i++ {
		ctx, span := tp.Tracer("test").Start(context.Background(), "req")
		serve(h, newReq("203.0.113.50", "ua").WithContext(ctx))
		span.End()
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	if n := len(spans[0].Events()); n != 0 {
		t.Fatalf("allowed request recorded %d events", n)
	}
	ev := spans[1].Events()
	if len(ev) != 1 || ev[0].Name != "ratelimit.denied" {
		t.Fatalf("denied request events = %+v", ev)
	}
}
