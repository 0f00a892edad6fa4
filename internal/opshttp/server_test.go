package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/toolsdir-web/internal/health"
	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

func okInner() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireNonPublicNetwork(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"[::1]:5000", http.StatusOK},
		{"10.1.2.3:5000", http.StatusOK},
		{"192.168.0.4:5000", http.StatusOK},
		{"169.254.1.1:8080", http.StatusOK},
		{"[::ffff:10.0.0.1]:12345", http.StatusOK},
		{"8.8.8.8:5000", http.StatusForbidden},
		{"[2001:4860:4860::8888]:443", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:12345", http.StatusForbidden},
		{"not-an-address", http.StatusForbidden},
		{"", http.StatusForbidden},
		{"999.999.999.999:8080", http.StatusForbidden},
	}
	h := requireNonPublicNetwork(log.Nop(), okInner())
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
		req.RemoteAddr = tt.addr
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%q: status = %d, want %d", tt.addr, rec.Code, tt.want)
		}
	}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = "127.0.0.1:40000"
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Probes(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(log.Nop(), Options{
		Health:    health.Fixed(true, ""),
		Readiness: gate.Probe(),
	})

	if rec := get(h, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("healthy = %d", rec.Code)
	}
	if rec := get(h, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
	gate.Set("draining")
	if rec := get(h, "/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while draining = %d", rec.Code)
	}
}

func TestNewHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ratelimit_denied_total 0\n")
	})
	h := NewHandler(log.Nop(), Options{Metrics: metrics})
	if rec := get(h, "/metrics"); !strings.Contains(rec.Body.String(), "ratelimit_denied_total") {
		t.Fatalf("metrics body = %q", rec.Body.String())
	}

	if rec := get(NewHandler(log.Nop(), Options{}), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("no metrics handler: status = %d, want 404", rec.Code)
	}
}

func TestNewHandler_Pprof(t *testing.T) {
	if rec := get(NewHandler(log.Nop(), Options{EnablePprof: true}), "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled = %d", rec.Code)
	}
	if rec := get(NewHandler(log.Nop(), Options{}), "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", rec.Code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_ServesAndStops(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := Start(context.Background(), log.Nop(), Options{Port: ln.Addr().(*net.TCPAddr).Port}); err == nil {
		t.Fatal("expected listen error on a taken port")
	}
}
