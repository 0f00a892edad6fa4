// Package prof pushes continuous profiles to Pyroscope.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/linnemanlabs/toolsdir-web/internal/log"
	"github.com/linnemanlabs/toolsdir-web/internal/version"
	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

type Options struct {
	Enabled       bool
	ServerAddress string
	TenantID      string
	// AppName defaults to the build's application name.
	AppName string
	Tags    map[string]string
	// Build, when set, adds version and commit tags.
	Build *version.Info

	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive reports whether the profiler is running (for a gauge).
	OnActive func(bool)
}

// Start launches the profiler. The returned stop func is always non-nil and
// safe to call more than once, including after an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := buildConfig(opts)
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", cfg.ServerAddress,
			"app_name", cfg.ApplicationName,
		)
		return noop, xerrors.Wrap(err, "start pyroscope")
	}
	if opts.OnActive != nil {
		opts.OnActive(true)
	}
	L.Info(ctx, "pyroscope started",
		"server_address", cfg.ServerAddress,
		"app_name", cfg.ApplicationName,
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			if opts.OnActive != nil {
				opts.OnActive(false)
			}
			L.Info(context.Background(), "pyroscope stopped", "app_name", cfg.ApplicationName)
		})
	}, nil
}

func buildConfig(opts Options) pyroscope.Config {
	app := opts.AppName
	if app == "" {
		app = version.AppName
	}

	tags := make(map[string]string, len(opts.Tags)+2)
	if b := opts.Build; b != nil {
		if b.Version != "" {
			tags["version"] = b.Version
		}
		if b.Commit != "" {
			tags["commit"] = b.Commit
		}
	}
	for k, v := range opts.Tags {
		tags[k] = v
	}

	return pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	}
}
