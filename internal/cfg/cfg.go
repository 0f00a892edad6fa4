package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

// EnvPrefix is prepended to flag names to form environment variable names.
const EnvPrefix = "TOOLSDIR_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	OpsPort           int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	DBPath       string
	SeedFile     string
	SeedDefault  bool
	MaxBodyBytes int64

	AdminUser         string
	AdminPasswordHash string

	RateLimitSweepInterval time.Duration
	RateLimitMaxEntries    int
	// DenialLogEvery logs one in every N first denials per process.
	DenialLogEvery int

	// DrainDelay is how long readiness fails before listeners close.
	DrainDelay time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or text (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.OpsPort, "ops-port", 9000, "ops listen TCP port for metrics, health and pprof (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on ops port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.StringVar(&c.DBPath, "db-path", "toolsdir.db", "SQLite database file")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML file of tools loaded into an empty database")
	fs.BoolVar(&c.SeedDefault, "seed-default", true, "load the built-in starter catalogue into an empty database when -seed-file is unset")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<10, "max API request body size in bytes")
	fs.StringVar(&c.AdminUser, "admin-user", "admin", "username for the write API")
	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", "", "bcrypt hash of the admin password; empty disables writes")
	fs.DurationVar(&c.RateLimitSweepInterval, "ratelimit-sweep-interval", 5*time.Minute, "how often expired rate limit entries are removed")
	fs.IntVar(&c.RateLimitMaxEntries, "ratelimit-max-entries", 0, "cap on tracked rate limit clients (0 = unbounded)")
	fs.IntVar(&c.DenialLogEvery, "ratelimit-denial-log-every", 1, "log one in every N new rate limit denials (1 = all)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 15*time.Second, "time to fail readiness before shutting down listeners")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.OpsPort < 1 || c.OpsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid OPS_PORT %d (must be 1..65535)", c.OpsPort))
	}
	if c.OpsPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("OPS_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Storage
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}

	// Admin credentials: a hash is optional, but when set it must be bcrypt
	if c.AdminPasswordHash != "" {
		if c.AdminUser == "" {
			errs = append(errs, errors.New("ADMIN_USER required when ADMIN_PASSWORD_HASH is set"))
		}
		if _, err := bcrypt.Cost([]byte(c.AdminPasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err))
		}
	}

	// Rate limiter
	if c.RateLimitSweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP_INTERVAL must be at least 1s (got %s)", c.RateLimitSweepInterval))
	}
	if c.RateLimitMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_ENTRIES must be >= 0 (got %d)", c.RateLimitMaxEntries))
	}
	if c.DenialLogEvery < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_DENIAL_LOG_EVERY must be >= 1 (got %d)", c.DenialLogEvery))
	}

	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must be >= 0 (got %s)", c.DrainDelay))
	}

	return errors.Join(errs...)
}
