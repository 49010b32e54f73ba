package capture

import (
	"context"

	"github.com/bryanchriswhite/screenshare/internal/capability"
)

// DiscoveryOptions narrow the underlying enumeration. The zero value is the
// permissive query; displays are returned regardless.
type DiscoveryOptions struct {
	ExcludeDesktopWindows bool `json:"exclude_desktop_windows" yaml:"exclude_desktop_windows"`
	OnScreenOnly          bool `json:"on_screen_only" yaml:"on_screen_only"`
}

// Sink receives everything a running Stream produces. OnSample is called in
// production order from a single goroutine per stream. OnError is the side
// channel for fatal stream failures.
type Sink interface {
	OnSample(ev FrameEvent)
	OnError(err error)
}

// Stream is one platform capture stream bound to a surface
type Stream interface {
	// Start blocks until the platform confirms the stream is live or rejects it.
	Start(ctx context.Context) error

	// Stop releases the stream. It is idempotent, may be called while Start
	// is still pending, and no OnSample call begins after it returns.
	Stop() error
}

// Platform is a capture backend (X11, desktop portal, native screenshot API)
type Platform interface {
	// Name returns a human-readable name for this backend
	Name() string

	// Capability reports the capability tier of the current environment
	Capability(ctx context.Context) (capability.Level, error)

	// Discover enumerates capturable displays in platform order
	Discover(ctx context.Context, opts DiscoveryOptions) ([]Surface, error)

	// OpenStream prepares a stream for surface; nothing is captured until Start
	OpenStream(surface Surface, cfg Configuration, sink Sink) (Stream, error)

	// Close releases backend connections
	Close() error
}
