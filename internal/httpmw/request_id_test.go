package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_Generates(t *testing.T) {
	var got string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", got, err)
	}
	if rec.Header().Get("X-Request-Id") != got {
		t.Fatal("response header should echo the id")
	}
}

func TestRequestID_Propagates(t *testing.T) {
	var got string
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Correlation-Id", "abc-123")
	rec := serve(h, r)

	if got != "abc-123" || rec.Header().Get("X-Correlation-Id") != "abc-123" {
		t.Fatalf("id = %q, header = %q", got, rec.Header().Get("X-Correlation-Id"))
	}
}

func TestRequestID_RejectsMalformed(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", 200)} {
		var got string
		h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = RequestIDFromContext(r.Context())
		}))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header["X-Request-Id"] = []string{bad}
		serve(h, r)
		if got == bad {
			t.Errorf("malformed id %q should be replaced", bad)
		}
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(t.Context()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
