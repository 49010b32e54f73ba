package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/screenshare/internal/logger"
)

// Discover enumerates surfaces on p. Permission and support failures are
// returned as-is so callers can match them; anything else is wrapped.
func Discover(ctx context.Context, p Platform, opts DiscoveryOptions) ([]Surface, error) {
	log := logger.WithComponent("discovery")

	log.Debug().
		Str("backend", p.Name()).
		Bool("exclude_desktop_windows", opts.ExcludeDesktopWindows).
		Bool("on_screen_only", opts.OnScreenOnly).
		Msg("Enumerating capturable surfaces")

	surfaces, err := p.Discover(ctx, opts)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrPlatformUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to discover surfaces on %s: %w", p.Name(), err)
	}

	for i, s := range surfaces {
		log.Debug().
			Int("index", i).
			Uint32("id", s.ID).
			Str("name", s.Name).
			Int("width", s.Width()).
			Int("height", s.Height()).
			Msg("Found surface")
	}

	return surfaces, nil
}

// SelectFirst returns the first discovered surface. Order is whatever the
// platform reported; no matching by name is attempted.
func SelectFirst(surfaces []Surface) (*Surface, error) {
	if len(surfaces) == 0 {
		return nil, ErrNoSurfaceAvailable
	}
	s := surfaces[0]
	return &s, nil
}
