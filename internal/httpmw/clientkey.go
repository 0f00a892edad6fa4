package httpmw

import (
	"context"
	"net"
	"net/http"

	"github.com/linnemanlabs/toolsdir-web/internal/ratelimit"
)

type clientIPKey struct{}

// ClientKey derives the rate limit fingerprint once per request and stores
// it, along with the resolved client IP, in the request context.
//
// When no forwarding header is present the fingerprint uses the shared
// "unknown" bucket, but the logged client IP falls back to the peer address.
func ClientKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r.Header)
		if ip == ratelimit.UnknownIP {
			ip = peerIP(r)
		}
		ctx := ratelimit.WithClientKey(r.Context(), ratelimit.KeyFor(r.Header))
		ctx = WithClientIP(ctx, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func peerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return ratelimit.UnknownIP
}

// ClientIPFromContext returns the client IP stored by ClientKey, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// WithClientIP stores ip in ctx. An empty ip leaves ctx unchanged.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
