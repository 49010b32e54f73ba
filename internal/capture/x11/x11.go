// Package x11 captures displays from an X server. Displays are RandR CRTCs;
// frames are polled with GetImage on the root window.
package x11

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
)

// Minimum RandR version for CRTC enumeration
const (
	randrMajor = 1
	randrMinor = 2
)

// Platform implements capture.Platform on top of X11
type Platform struct {
	mu         sync.Mutex
	conn       *xgb.Conn
	root       xproto.Window
	screen     *xproto.ScreenInfo
	randrReady bool
	xfixesOK   bool
}

// New returns an X11 platform. The connection is opened on first use.
func New() *Platform {
	return &Platform{}
}

// Name returns the backend name
func (p *Platform) Name() string {
	return "x11"
}

// connect opens the X connection and initializes extensions. Caller holds p.mu.
func (p *Platform) connect() error {
	if p.conn != nil {
		return nil
	}

	log := logger.WithComponent("x11")

	conn, err := xgb.NewConn()
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
		}
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	p.conn = conn
	p.screen = setup.DefaultScreen(conn)
	p.root = p.screen.Root

	if err := randr.Init(conn); err != nil {
		log.Warn().Err(err).Msg("RandR extension not available")
	} else if v, err := randr.QueryVersion(conn, randrMajor, randrMinor).Reply(); err != nil {
		log.Warn().Err(err).Msg("Failed to query RandR version")
	} else {
		p.randrReady = v.MajorVersion > randrMajor ||
			(v.MajorVersion == randrMajor && v.MinorVersion >= randrMinor)
		log.Debug().
			Uint32("major", v.MajorVersion).
			Uint32("minor", v.MinorVersion).
			Msg("RandR version")
	}

	if err := xfixes.Init(conn); err != nil {
		log.Warn().Err(err).Msg("XFixes extension not available - cursor will not be drawn")
	} else if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err != nil {
		log.Warn().Err(err).Msg("Failed to negotiate XFixes version")
	} else {
		p.xfixesOK = true
	}

	return nil
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authoriz") || strings.Contains(msg, "authenticat")
}

// Capability reports LevelScreenCapture when RandR 1.2+ is present
func (p *Platform) Capability(ctx context.Context) (capability.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return capability.LevelNone, err
	}
	if !p.randrReady {
		return capability.LevelNone, nil
	}
	return capability.LevelScreenCapture, nil
}

// Discover lists active CRTCs as surfaces. The option flags only concern
// window enumeration, which X11 displays do not need.
func (p *Platform) Discover(ctx context.Context, opts capture.DiscoveryOptions) ([]capture.Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return nil, err
	}
	if !p.randrReady {
		return nil, fmt.Errorf("%w: RandR %d.%d required", capture.ErrPlatformUnsupported, randrMajor, randrMinor)
	}

	res, err := randr.GetScreenResources(p.conn, p.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	log := logger.WithComponent("x11")
	surfaces := make([]capture.Surface, 0, len(res.Crtcs))
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(p.conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			log.Warn().Err(err).Uint32("crtc", uint32(crtc)).Msg("Failed to get CRTC info")
			continue
		}
		// Disabled CRTCs have no outputs and no mode
		if info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			continue
		}

		name := ""
		if out, err := randr.GetOutputInfo(p.conn, info.Outputs[0], res.ConfigTimestamp).Reply(); err == nil {
			name = string(out.Name)
		}

		x, y := int(info.X), int(info.Y)
		surfaces = append(surfaces, capture.Surface{
			ID:     uint32(crtc),
			Name:   name,
			Bounds: image.Rect(x, y, x+int(info.Width), y+int(info.Height)),
			Scale:  1,
		})
	}

	return surfaces, nil
}

// OpenStream returns a polling stream over the surface's root-window region
func (p *Platform) OpenStream(surface capture.Surface, cfg capture.Configuration, sink capture.Sink) (capture.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return nil, err
	}
	if surface.Bounds.Empty() {
		return nil, fmt.Errorf("surface %d has empty bounds", surface.ID)
	}
	if cfg.ShowsCursor && !p.xfixesOK {
		logger.WithComponent("x11").Info().Msg("Cursor requested but XFixes is unavailable; frames will not include it")
	}

	grab := func() (*image.RGBA, error) {
		return p.grab(surface.Bounds, cfg.ShowsCursor)
	}
	return capture.NewPollingStream("x11", cfg, sink, grab, nil), nil
}

func (p *Platform) grab(bounds image.Rectangle, withCursor bool) (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil, fmt.Errorf("X connection closed")
	}

	reply, err := xproto.GetImage(
		p.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(p.root),
		int16(bounds.Min.X), int16(bounds.Min.Y),
		uint16(bounds.Dx()), uint16(bounds.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	img := convertImageData(reply.Data, bounds.Dx(), bounds.Dy(), int(p.screen.RootDepth))

	if withCursor && p.xfixesOK {
		cur, err := xfixes.GetCursorImage(p.conn).Reply()
		if err == nil {
			drawCursor(img, bounds.Min, cursorFromReply(cur))
		}
	}

	return img, nil
}

// Close closes the X connection
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
