package ratelimit

import (
	"context"
	"strings"

	"github.com/linnemanlabs/toolsdir-web/internal/cryptoutil"
)

// ClientKey approximates a requester's identity as "<ip>|<ua-hash>".
// Distinct clients behind one IP with the same User-Agent share a key.
type ClientKey string

// UnknownIP is used when no identifying header is present. All such
// requests share one bucket per class.
const UnknownIP = "unknown"

// uaHashLen is the number of hex characters of the User-Agent digest kept.
const uaHashLen = 16

// Headers is the header lookup a request must offer. http.Header satisfies it.
type Headers interface {
	Get(key string) string
}

// ClientIP returns the best-effort source address: the first entry of
// X-Forwarded-For, then X-Real-IP, then CF-Connecting-IP, else UnknownIP.
func ClientIP(h Headers) string {
	if h == nil {
		return UnknownIP
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, name := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := strings.TrimSpace(h.Get(name)); ip != "" {
			return ip
		}
	}
	return UnknownIP
}

// KeyFor derives the ClientKey for a request. It never fails; missing
// headers fall back to UnknownIP and the digest of an empty User-Agent.
func KeyFor(h Headers) ClientKey {
	var ua string
	if h != nil {
		ua = h.Get("User-Agent")
	}
	return ClientKey(ClientIP(h) + "|" + cryptoutil.Fingerprint(ua, uaHashLen))
}

type clientKeyCtx struct{}

// WithClientKey stores k in ctx so later middleware does not derive it again.
func WithClientKey(ctx context.Context, k ClientKey) context.Context {
	return context.WithValue(ctx, clientKeyCtx{}, k)
}

// ClientKeyFromContext returns the key stored by WithClientKey.
func ClientKeyFromContext(ctx context.Context) (ClientKey, bool) {
	k, ok := ctx.Value(clientKeyCtx{}).(ClientKey)
	return k, ok && k != ""
}
