// Package backend picks the capture platform for the running desktop
package backend

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/capture/audio"
	"github.com/bryanchriswhite/screenshare/internal/capture/portal"
	"github.com/bryanchriswhite/screenshare/internal/capture/screenshot"
	"github.com/bryanchriswhite/screenshare/internal/capture/x11"
	"github.com/bryanchriswhite/screenshare/internal/config"
	"github.com/bryanchriswhite/screenshare/internal/logger"
)

// Options select and configure a backend
type Options struct {
	// Name is one of config.Backends
	Name string
	// ShowCursor is passed to backends that fix the cursor mode at session setup
	ShowCursor bool
	// PortalTokenPath persists the portal restore token; empty disables it
	PortalTokenPath string
	// NoAudio skips the audio tier and its device probe
	NoAudio bool
}

// Resolve maps "auto" to a concrete backend using the session environment:
// Wayland sessions use the portal, X sessions use x11, anything else falls
// back to the screenshot library.
func Resolve(name string, getenv func(string) string) (string, error) {
	switch name {
	case config.BackendX11, config.BackendPortal, config.BackendScreenshot:
		return name, nil
	case "", config.BackendAuto:
	default:
		return "", fmt.Errorf("unknown backend %q", name)
	}

	if getenv("WAYLAND_DISPLAY") != "" || getenv("XDG_SESSION_TYPE") == "wayland" {
		return config.BackendPortal, nil
	}
	if getenv("DISPLAY") != "" {
		return config.BackendX11, nil
	}
	return config.BackendScreenshot, nil
}

// New builds the platform named by opts, wrapped with the audio tier
func New(opts Options) (capture.Platform, error) {
	name, err := Resolve(opts.Name, os.Getenv)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("backend")

	var p capture.Platform
	switch name {
	case config.BackendPortal:
		p = portal.New(portal.Options{
			ShowCursor: opts.ShowCursor,
			TokenPath:  opts.PortalTokenPath,
		})
	case config.BackendX11:
		p = x11.New()
	default:
		p = screenshot.New()
	}

	log.Info().
		Str("requested", opts.Name).
		Str("backend", name).
		Bool("audio", !opts.NoAudio).
		Msg("Selected capture backend")

	if opts.NoAudio {
		return p, nil
	}
	return capture.WithAudio(p, audio.NewSource()), nil
}
