// Package screenshot is the portable fallback backend built on
// github.com/kbinani/screenshot. It polls full-display grabs and cannot
// hide the cursor.
package screenshot

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/kbinani/screenshot"
)

// Platform implements capture.Platform with kbinani/screenshot
type Platform struct {
	numDisplays func() int
	bounds      func(int) image.Rectangle
	captureRect func(image.Rectangle) (*image.RGBA, error)

	mu       sync.Mutex
	surfaces map[uint32]image.Rectangle
}

// New returns a platform backed by the OS screenshot APIs
func New() *Platform {
	return &Platform{
		numDisplays: screenshot.NumActiveDisplays,
		bounds:      screenshot.GetDisplayBounds,
		captureRect: screenshot.CaptureRect,
	}
}

// Name returns the backend name
func (p *Platform) Name() string {
	return "screenshot"
}

// Capability is always LevelScreenCapture. The library has no permission
// probe; a denied grab surfaces as a start failure.
func (p *Platform) Capability(ctx context.Context) (capability.Level, error) {
	return capability.LevelScreenCapture, nil
}

// Discover lists the active displays in the order the OS reports them
func (p *Platform) Discover(ctx context.Context, opts capture.DiscoveryOptions) ([]capture.Surface, error) {
	n := p.numDisplays()
	logger.WithComponent("screenshot").Debug().Int("displays", n).Msg("Enumerated displays")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.surfaces = make(map[uint32]image.Rectangle, n)
	surfaces := make([]capture.Surface, 0, n)
	for i := 0; i < n; i++ {
		b := p.bounds(i)
		if b.Empty() {
			continue
		}
		id := uint32(i)
		p.surfaces[id] = b
		surfaces = append(surfaces, capture.Surface{
			ID:     id,
			Name:   fmt.Sprintf("display-%d", i),
			Bounds: b,
			Scale:  1,
		})
	}
	return surfaces, nil
}

// OpenStream polls CaptureRect over the surface bounds
func (p *Platform) OpenStream(surface capture.Surface, cfg capture.Configuration, sink capture.Sink) (capture.Stream, error) {
	p.mu.Lock()
	b, ok := p.surfaces[surface.ID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown display %d", surface.ID)
	}
	if !cfg.ShowsCursor {
		logger.WithComponent("screenshot").Info().Msg("Cursor cannot be hidden with the screenshot backend")
	}

	grab := func() (*image.RGBA, error) {
		return p.captureRect(b)
	}
	return capture.NewPollingStream("screenshot", cfg, sink, grab, nil), nil
}

// Close is a no-op; the library holds no connection
func (p *Platform) Close() error {
	return nil
}
