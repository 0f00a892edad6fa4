package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/toolsdir-web/internal/health"
	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

// DefaultMaxBodyBytes caps API request bodies. A tool document is well
// under this.
const DefaultMaxBodyBytes = 64 << 10

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe
	// APIRoutes registers the application routes on the chi router.
	APIRoutes    func(chi.Router)
	MaxBodyBytes int64
}
