// Package portal captures monitors through the xdg-desktop-portal ScreenCast
// interface. Frames come from a gst-launch-1.0 subprocess reading the PipeWire
// node the portal hands out.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

// Request response codes
const (
	responseSuccess   = 0
	responseCancelled = 1
)

// cursor_mode and persist_mode need ScreenCast version 2 and 4
const (
	cursorModeVersion  = 2
	persistModeVersion = 4
)

// Options configure the portal session
type Options struct {
	// ShowCursor embeds the pointer in the stream
	ShowCursor bool
	// TokenPath stores the restore token between runs; empty disables persistence
	TokenPath string
	// Launcher is the gst-launch binary; defaults to gst-launch-1.0
	Launcher string
	// RequestTimeout bounds each portal request (the user may need to pick a screen)
	RequestTimeout time.Duration
}

// Platform implements capture.Platform via the ScreenCast portal
type Platform struct {
	opts Options

	mu            sync.Mutex
	conn          *dbus.Conn
	version       uint32
	sessionHandle dbus.ObjectPath
	streams       []stream
	restoreToken  string
	requestSeq    int
}

// New creates a portal platform. Nothing is contacted until first use.
func New(opts Options) *Platform {
	if opts.Launcher == "" {
		opts.Launcher = "gst-launch-1.0"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	p := &Platform{opts: opts}
	p.loadRestoreToken()
	return p
}

// Name returns the backend name
func (p *Platform) Name() string {
	return "portal"
}

func (p *Platform) connect() error {
	if p.conn != nil {
		return nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	p.conn = conn
	return nil
}

// Capability reports LevelScreenCapture when the ScreenCast portal offers
// monitor sources and gst-launch is installed
func (p *Platform) Capability(ctx context.Context) (capability.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithComponent("portal")

	if err := p.connect(); err != nil {
		return capability.LevelNone, err
	}

	obj := p.conn.Object(portalService, portalPath)
	v, err := obj.GetProperty(screenCastIface + ".version")
	if err != nil {
		log.Warn().Err(err).Msg("ScreenCast portal not available")
		return capability.LevelNone, nil
	}
	version, _ := v.Value().(uint32)
	p.version = version

	types, err := obj.GetProperty(screenCastIface + ".AvailableSourceTypes")
	if err == nil {
		if t, ok := types.Value().(uint32); ok && t&SourceTypeMonitor == 0 {
			log.Warn().Uint32("source_types", t).Msg("ScreenCast portal cannot share monitors")
			return capability.LevelNone, nil
		}
	}

	if _, err := exec.LookPath(p.opts.Launcher); err != nil {
		log.Warn().Err(err).Str("launcher", p.opts.Launcher).Msg("GStreamer launcher not found")
		return capability.LevelNone, nil
	}

	log.Debug().Uint32("version", version).Msg("ScreenCast portal available")
	if version < 1 {
		return capability.LevelNone, nil
	}
	return capability.LevelScreenCapture, nil
}

// Discover runs the CreateSession/SelectSources/Start handshake once and
// returns the shared monitors. Later calls return the same streams. The
// portal only offers monitors here, so the window options do not apply.
func (p *Platform) Discover(ctx context.Context, opts capture.DiscoveryOptions) ([]capture.Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return nil, err
	}

	if p.sessionHandle == "" {
		if err := p.startScreenShare(ctx); err != nil {
			return nil, err
		}
	}

	surfaces := make([]capture.Surface, 0, len(p.streams))
	for _, s := range p.streams {
		surfaces = append(surfaces, s.surface())
	}
	return surfaces, nil
}

// startScreenShare initiates the screen sharing session. Caller holds p.mu.
func (p *Platform) startScreenShare(ctx context.Context) error {
	log := logger.WithComponent("portal")

	sessionHandle, err := p.createSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	p.sessionHandle = sessionHandle
	log.Debug().Str("session", string(sessionHandle)).Msg("Created portal session")

	if err := p.selectSources(ctx); err != nil {
		p.closeSession()
		return fmt.Errorf("failed to select sources: %w", err)
	}

	streams, err := p.start(ctx)
	if err != nil {
		p.closeSession()
		return fmt.Errorf("failed to start session: %w", err)
	}
	p.streams = streams
	log.Info().Int("streams", len(streams)).Msg("Screen sharing started")

	return nil
}

func (p *Platform) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	options := map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("screenshare%d", os.Getpid())),
	}

	results, err := p.request(ctx, "CreateSession", options)
	if err != nil {
		return "", err
	}

	sessionHandle, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	// Handle both string and ObjectPath types
	switch v := sessionHandle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", v)
	}
}

func (p *Platform) selectSources(ctx context.Context) error {
	options := map[string]dbus.Variant{
		"types":    dbus.MakeVariant(uint32(SourceTypeMonitor)),
		"multiple": dbus.MakeVariant(true),
	}
	if p.version >= cursorModeVersion {
		mode := uint32(CursorModeHidden)
		if p.opts.ShowCursor {
			mode = CursorModeEmbedded
		}
		options["cursor_mode"] = dbus.MakeVariant(mode)
	} else if p.opts.ShowCursor {
		logger.WithComponent("portal").Info().
			Uint32("version", p.version).
			Msg("Portal too old to select cursor mode; using its default")
	}
	if p.version >= persistModeVersion && p.opts.TokenPath != "" {
		options["persist_mode"] = dbus.MakeVariant(uint32(PersistModeApplication))
		if p.restoreToken != "" {
			options["restore_token"] = dbus.MakeVariant(p.restoreToken)
		}
	}

	_, err := p.request(ctx, "SelectSources", options, p.sessionHandle)
	return err
}

func (p *Platform) start(ctx context.Context) ([]stream, error) {
	// Start with empty parent window
	results, err := p.request(ctx, "Start", map[string]dbus.Variant{}, p.sessionHandle, "")
	if err != nil {
		return nil, err
	}

	// Save restore token for future sessions
	if restoreToken, ok := results["restore_token"]; ok {
		if token, ok := restoreToken.Value().(string); ok {
			p.restoreToken = token
			p.saveRestoreToken()
		}
	}

	v, ok := results["streams"]
	if !ok {
		return nil, fmt.Errorf("no streams in response")
	}
	return parseStreams(v.Value())
}

// request calls a ScreenCast method and waits for its Request.Response
// signal. args precede the options dict in the call.
func (p *Platform) request(ctx context.Context, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	obj := p.conn.Object(portalService, portalPath)

	p.requestSeq++
	options["handle_token"] = dbus.MakeVariant(fmt.Sprintf("screenshare%d_%d", os.Getpid(), p.requestSeq))

	// Set up response channel BEFORE making the call
	responseChan := make(chan *dbus.Signal, 10)
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	}
	if err := p.conn.AddMatchSignal(matchOpts...); err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	defer p.conn.RemoveMatchSignal(matchOpts...)

	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	callArgs := append(args, options)
	var requestPath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Info().Str("request_path", string(requestPath)).Msgf("Waiting for %s response (portal dialog may appear)", method)

	timeout := time.NewTimer(p.opts.RequestTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("timeout waiting for %s response", method)
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			return decodeResponse(method, sig.Body)
		}
	}
}

// decodeResponse interprets a Request.Response body (u response, a{sv} results)
func decodeResponse(method string, body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("invalid %s response", method)
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("invalid %s response code type %T", method, body[0])
	}

	switch code {
	case responseSuccess:
	case responseCancelled:
		return nil, fmt.Errorf("%w: %s cancelled by user", capture.ErrPermissionDenied, method)
	default:
		return nil, fmt.Errorf("%s denied (code %d)", method, code)
	}

	results := map[string]dbus.Variant{}
	if len(body) > 1 {
		if r, ok := body[1].(map[string]dbus.Variant); ok {
			results = r
		}
	}
	return results, nil
}

// OpenStream prepares a GStreamer subprocess for the surface's PipeWire node
func (p *Platform) OpenStream(surface capture.Surface, cfg capture.Configuration, sink capture.Sink) (capture.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.streams {
		if s.nodeID == surface.ID {
			return newPipeline(p.opts.Launcher, surface, cfg, sink), nil
		}
	}
	return nil, fmt.Errorf("surface %d is not part of the portal session", surface.ID)
}

func (p *Platform) closeSession() {
	if p.sessionHandle != "" && p.conn != nil {
		p.conn.Object(portalService, p.sessionHandle).Call(sessionIface+".Close", 0)
	}
	p.sessionHandle = ""
	p.streams = nil
}

// Close ends the portal session and the bus connection
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeSession()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// stream is one entry of the Start response
type stream struct {
	nodeID   uint32
	position image.Point
	size     image.Point
}

func (s stream) surface() capture.Surface {
	return capture.Surface{
		ID:     s.nodeID,
		Name:   fmt.Sprintf("pipewire-%d", s.nodeID),
		Bounds: image.Rectangle{Min: s.position, Max: s.position.Add(s.size)},
		Scale:  1,
	}
}

// parseStreams decodes a(ua{sv}). godbus hands structs over as []interface{}.
func parseStreams(v interface{}) ([]stream, error) {
	var entries [][]interface{}
	switch t := v.(type) {
	case [][]interface{}:
		entries = t
	case []interface{}:
		for _, e := range t {
			if fields, ok := e.([]interface{}); ok {
				entries = append(entries, fields)
			}
		}
	default:
		return nil, fmt.Errorf("unknown streams format %T", v)
	}

	streams := make([]stream, 0, len(entries))
	for _, fields := range entries {
		if len(fields) == 0 {
			continue
		}
		nodeID, ok := fields[0].(uint32)
		if !ok {
			continue
		}
		s := stream{nodeID: nodeID}
		if len(fields) > 1 {
			if props, ok := fields[1].(map[string]dbus.Variant); ok {
				s.position = pointProp(props, "position")
				s.size = pointProp(props, "size")
			}
		}
		streams = append(streams, s)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams in response")
	}
	return streams, nil
}

// pointProp reads an (ii) property
func pointProp(props map[string]dbus.Variant, key string) image.Point {
	v, ok := props[key]
	if !ok {
		return image.Point{}
	}
	pair, ok := v.Value().([]interface{})
	if !ok || len(pair) != 2 {
		return image.Point{}
	}
	x, _ := pair[0].(int32)
	y, _ := pair[1].(int32)
	return image.Pt(int(x), int(y))
}

// loadRestoreToken loads the restore token from disk
func (p *Platform) loadRestoreToken() {
	if p.opts.TokenPath == "" {
		return
	}
	data, err := os.ReadFile(p.opts.TokenPath)
	if err != nil {
		return
	}

	var token struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	p.restoreToken = token.Token
}

// saveRestoreToken saves the restore token to disk
func (p *Platform) saveRestoreToken() {
	if p.restoreToken == "" || p.opts.TokenPath == "" {
		return
	}

	log := logger.WithComponent("portal")
	if err := os.MkdirAll(filepath.Dir(p.opts.TokenPath), 0755); err != nil {
		log.Warn().Err(err).Msg("Failed to create token directory")
		return
	}

	data, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: p.restoreToken})
	if err != nil {
		return
	}
	if err := os.WriteFile(p.opts.TokenPath, data, 0600); err != nil {
		log.Warn().Err(err).Msg("Failed to save restore token")
		return
	}
	log.Debug().Msg("Saved restore token for future sessions")
}
