package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/toolsdir-web/internal/cfg"
	"github.com/linnemanlabs/toolsdir-web/internal/directory"
	"github.com/linnemanlabs/toolsdir-web/internal/directoryhttp"
	"github.com/linnemanlabs/toolsdir-web/internal/health"
	"github.com/linnemanlabs/toolsdir-web/internal/httpserver"
	"github.com/linnemanlabs/toolsdir-web/internal/log"
	"github.com/linnemanlabs/toolsdir-web/internal/metrics"
	"github.com/linnemanlabs/toolsdir-web/internal/opshttp"
	"github.com/linnemanlabs/toolsdir-web/internal/otelx"
	"github.com/linnemanlabs/toolsdir-web/internal/prof"
	"github.com/linnemanlabs/toolsdir-web/internal/ratelimit"
	v "github.com/linnemanlabs/toolsdir-web/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"ops_port", conf.OpsPort,
		"db_path", conf.DBPath,
		"seed_file", conf.SeedFile,
		"admin_writes_enabled", conf.AdminPasswordHash != "",
		"ratelimit_sweep_interval", conf.RateLimitSweepInterval,
		"ratelimit_max_entries", conf.RateLimitMaxEntries,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Build:         &vi,
		Tags:          map[string]string{"component": "server"},
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Tool directory
	store, err := directory.Open(conf.DBPath, directory.WithObserver(m))
	if err != nil {
		L.Error(ctx, err, "failed to open database", "db_path", conf.DBPath)
		os.Exit(1)
	}

	if err := store.Migrate(ctx); err != nil {
		L.Error(ctx, err, "database migration failed")
		os.Exit(1)
	}
	switch {
	case conf.SeedFile != "":
		n, err := directory.LoadSeed(ctx, store, conf.SeedFile)
		if err != nil {
			L.Error(ctx, err, "failed to load seed file", "seed_file", conf.SeedFile)
			os.Exit(1)
		}
		L.Info(ctx, "seed file processed", "seed_file", conf.SeedFile, "inserted", n)
	case conf.SeedDefault:
		n, err := directory.LoadSeedData(ctx, store, directory.DefaultSeed())
		if err != nil {
			L.Error(ctx, err, "failed to load built-in seed")
			os.Exit(1)
		}
		L.Info(ctx, "built-in seed processed", "inserted", n)
	}
	if n, err := store.Count(ctx); err != nil {
		L.Warn(ctx, "failed to count tools", "error", err)
	} else {
		m.SetToolCount(n)
	}

	// Rate limiter. Quotas are per instance; nothing is shared between
	// replicas or kept across restarts. The sweep outlives the signal
	// context so it keeps running through the drain; limiter.Close stops it.
	denialLog := &rate.Sometimes{Every: conf.DenialLogEvery}
	capacityLog := &rate.Sometimes{Interval: time.Minute}
	limiter := ratelimit.New(context.Background(),
		ratelimit.WithSweepInterval(conf.RateLimitSweepInterval),
		ratelimit.WithMaxEntries(conf.RateLimitMaxEntries),
		ratelimit.WithOnDenied(func(_ ratelimit.ClientKey, p ratelimit.Policy) {
			m.IncRateLimitDenied(string(p.Class))
		}),
		// one line per client per window, thinned further by -ratelimit-denial-log-every
		ratelimit.WithOnFirstDenied(func(key ratelimit.ClientKey, p ratelimit.Policy, res ratelimit.Result) {
			denialLog.Do(func() {
				L.Warn(ctx, "rate limit triggered",
					"client_key", string(key),
					"class", string(p.Class),
					"limit", p.MaxRequests,
					"window", p.Window,
					"reset_time", res.ResetTime,
				)
			})
		}),
		ratelimit.WithOnCapacity(func(size int) {
			m.IncRateLimitCapacity()
			capacityLog.Do(func() {
				L.Warn(ctx, "rate limit registry full, rejecting new clients until entries expire", "entries", size)
			})
		}),
		ratelimit.WithOnSweep(func(removed, remaining int) {
			m.ObserveRateLimitSweep(removed, remaining)
			L.Debug(ctx, "rate limit sweep", "removed", removed, "remaining", remaining)
		}),
	)
	defer limiter.Close()

	if conf.AdminPasswordHash == "" {
		L.Warn(ctx, "no admin password hash configured, write API will refuse every request")
	}
	api := directoryhttp.NewAPI(directoryhttp.Options{
		Store:             store,
		Limiter:           limiter,
		Logger:            L,
		AdminUser:         conf.AdminUser,
		AdminPasswordHash: []byte(conf.AdminPasswordHash),
		Counter:           m,
	})

	// readiness fails while draining or when the database is unreachable
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Ping("database", store, 0),
	)

	apiHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    func(r chi.Router) { api.RegisterRoutes(r) },
		MaxBodyBytes: conf.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// ops listener: metrics, health, pprof. Public peers are rejected in
	// middleware in case the network policy is ever misconfigured.
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.OpsPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "draining", "delay", conf.DrainDelay)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	limiter.Close()
	if err := store.Close(); err != nil {
		L.Error(bg, err, "database close")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit has Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
