package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

// Probe is evaluated at request time. nil means OK.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes if at least one probe passes, else returns the last error.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			last = xerrors.New("no healthy probes")
		}
		return last
	}
}

// Pinger is satisfied by *sql.DB and the tool store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping checks p within timeout, which defaults to 500ms.
func Ping(name string, p Pinger, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return func(ctx context.Context) error {
		if p == nil {
			return xerrors.Newf("%s: not configured", name)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.PingContext(ctx); err != nil {
			return xerrors.Wrap(err, name)
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
