package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

func TestWithLogger_AttachesRequestFields(t *testing.T) {
	spy := newSpyLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "inside")
	}), RequestID(""), ClientKey, WithLogger(spy))

	r := httptest.NewRequest(http.MethodGet, "/api/tools?featured=true", nil)
	r.Header.Set("X-Request-Id", "req-1")
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	serve(h, r)

	entries := spy.all()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	for key, want := range map[string]any{
		"request_id":          "req-1",
		"client.address":      "203.0.113.9",
		"http.request.method": http.MethodGet,
		"url.path":            "/api/tools",
		"url.scheme":          "http",
	} {
		if got, _ := e.get(key); got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
	if _, ok := e.get("url.query"); ok {
		t.Error("query strings should not be logged")
	}
}

func TestAccessLog_StatusRouteAndRateLimit(t *testing.T) {
	spy := newSpyLogger()

	router := chi.NewRouter()
	router.Use(AccessLog())
	router.Get("/api/tools/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "199")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("{}"))
	})
	h := WithLogger(spy)(router)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/tools/missing", nil))

	entries := spy.all()
	if len(entries) != 1 || entries[0].msg != "http request" {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if got, _ := e.get("http.response.status_code"); got != http.StatusNotFound {
		t.Errorf("status = %v", got)
	}
	if got, _ := e.get("http.route"); got != "/api/tools/{slug}" {
		t.Errorf("route = %v", got)
	}
	if got, _ := e.get("http.response.body.size"); got != int64(2) {
		t.Errorf("body size = %v", got)
	}
	if got, _ := e.get("ratelimit.remaining"); got != "199" {
		t.Errorf("ratelimit.remaining = %v", got)
	}
}

func TestAccessLog_SkipsProbes(t *testing.T) {
	spy := newSpyLogger()
	h := WithLogger(spy)(AccessLog()(okHandler))

	serve(h, httptest.NewRequest(http.MethodGet, "/-/healthy", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
	if n := len(spy.all()); n != 0 {
		t.Fatalf("probe requests logged %d lines", n)
	}
}

func TestScope(t *testing.T) {
	spy := newSpyLogger()
	h := WithLogger(spy)(Scope("tools.list")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "x")
	})))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

	if got, _ := spy.all()[0].get("handler"); got != "tools.list" {
		t.Fatalf("handler = %v", got)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		proto string
		want  string
	}{
		{"", "http"},
		{"https", "https"},
		{"HTTPS, http", "https"},
		{"gopher", "http"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.proto != "" {
			r.Header.Set("X-Forwarded-Proto", tt.proto)
		}
		if got := schemeFromRequest(r); got != tt.want {
			t.Errorf("proto %q: scheme = %q, want %q", tt.proto, got, tt.want)
		}
	}
}
