// Package app wires capability gating, discovery and a capture session into
// the single run the CLI performs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
)

// Options configure a run
type Options struct {
	Config       capture.Configuration
	Discovery    capture.DiscoveryOptions
	StartTimeout time.Duration
	// Observer receives screen frames; a FrameLogger is used when nil
	Observer capture.Observer
	// OnSession is called with the session before it starts
	OnSession func(*capture.Session)
}

// Plan is the outcome of gating and discovery
type Plan struct {
	Level    capability.Level
	Surfaces []capture.Surface
	Surface  *capture.Surface
	Config   capture.Configuration
	// Degraded is set when a requested feature was dropped by capability gating
	Degraded bool
}

// App runs one capture session against a platform
type App struct {
	platform capture.Platform
	opts     Options
}

// New creates an App. The caller keeps ownership of p.
func New(p capture.Platform, opts Options) *App {
	if opts.Observer == nil {
		opts.Observer = NewFrameLogger()
	}
	return &App{platform: p, opts: opts}
}

// CheckCapability probes the platform and applies the discovery gate
func CheckCapability(ctx context.Context, p capture.Platform) (capability.Level, error) {
	log := logger.WithComponent("app")

	level, err := p.Capability(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			return capability.LevelNone, err
		}
		return capability.LevelNone, fmt.Errorf("%w: %s capability probe failed: %w", capture.ErrPlatformUnsupported, p.Name(), err)
	}

	log.Debug().Str("backend", p.Name()).Stringer("level", level).Msg("Platform capability")

	if !level.Supports(capability.LevelScreenCapture) {
		return level, fmt.Errorf("%w: %s backend reports capability %s", capture.ErrPlatformUnsupported, p.Name(), level)
	}
	return level, nil
}

// Prepare gates on capability, discovers surfaces and picks the first one.
// Discovery is never attempted below LevelScreenCapture.
func (a *App) Prepare(ctx context.Context) (*Plan, error) {
	log := logger.WithComponent("app")

	level, err := CheckCapability(ctx, a.platform)
	if err != nil {
		return nil, err
	}

	cfg, degraded := a.opts.Config.Resolve(level)
	if degraded {
		log.Info().
			Stringer("level", level).
			Msg("Audio capture is not supported on this platform; continuing with audio disabled")
	}

	surfaces, err := capture.Discover(ctx, a.platform, a.opts.Discovery)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Level:    level,
		Surfaces: surfaces,
		Config:   cfg,
		Degraded: degraded,
	}

	surface, err := capture.SelectFirst(surfaces)
	if err != nil {
		return plan, err
	}
	plan.Surface = surface

	log.Info().
		Uint32("display_id", surface.ID).
		Str("name", surface.Name).
		Int("width", surface.Width()).
		Int("height", surface.Height()).
		Msg("Selected display")

	return plan, nil
}

// Run prepares, starts a session and blocks until ctx is cancelled or the
// session ends. Cancellation is a graceful stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	log := logger.WithComponent("app")

	plan, err := a.Prepare(ctx)
	if err != nil {
		return err
	}

	session := capture.NewSession(a.platform, capture.WithStartTimeout(a.opts.StartTimeout))
	if a.opts.OnSession != nil {
		a.opts.OnSession(session)
	}

	if err := session.Start(ctx, plan.Surface, plan.Config, a.opts.Observer); err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("Interrupted before capture started")
			return nil
		}
		return err
	}

	err = session.Wait(ctx)
	if ctx.Err() != nil {
		log.Info().Msg("Shutting down gracefully...")
		return session.Stop()
	}
	return err
}
