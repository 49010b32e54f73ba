package commands

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{capture.ErrNoSurfaceAvailable, 0},
		{fmt.Errorf("wrapped: %w", capture.ErrNoSurfaceAvailable), 0},
		{capture.ErrPlatformUnsupported, 1},
		{capture.ErrPermissionDenied, 1},
		{errors.New("boom"), 1},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPrintSurfacesTable(t *testing.T) {
	var buf bytes.Buffer
	err := printSurfacesTable(&buf, []capture.Surface{
		{ID: 64, Name: "eDP-1", Bounds: image.Rect(0, 0, 1920, 1080)},
		{ID: 65, Name: "HDMI-1", Bounds: image.Rect(1920, 0, 4480, 1440)},
	})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "eDP-1") || !strings.HasSuffix(strings.TrimSpace(lines[2]), "*") {
		t.Errorf("first display not marked selected: %q", lines[2])
	}
	if !strings.Contains(lines[3], "2560x1440") || strings.HasSuffix(strings.TrimSpace(lines[3]), "*") {
		t.Errorf("second display row = %q", lines[3])
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"displays": false, "capabilities": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestPlatformOptionsAudioTier(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend = config.BackendScreenshot

	opts := platformOptions(cfg, "/tmp/token", cfg.Capture.CapturesAudio)
	if !opts.NoAudio {
		t.Error("audio tier attached to a run that did not request audio")
	}
	if opts.Name != config.BackendScreenshot || opts.PortalTokenPath != "/tmp/token" {
		t.Errorf("options = %+v", opts)
	}

	cfg.Capture.CapturesAudio = true
	if opts := platformOptions(cfg, "", cfg.Capture.CapturesAudio); opts.NoAudio {
		t.Error("audio tier missing when audio was requested")
	}
}
