package portal

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
)

func TestExtractIntFromCaps(t *testing.T) {
	tests := []struct {
		caps string
		key  string
		want int
	}{
		{"video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440", "width", 2560},
		{"video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440", "height", 1440},
		{"video/x-raw,width=800,height=600", "height", 600},
		{"video/x-raw, format=(string)BGRx", "width", 0},
	}

	for _, tt := range tests {
		if got := extractIntFromCaps(tt.caps, tt.key); got != tt.want {
			t.Errorf("extractIntFromCaps(%q, %q) = %d, want %d", tt.caps, tt.key, got, tt.want)
		}
	}
}

func TestDimensionsFromCaps(t *testing.T) {
	output := strings.Join([]string{
		"Setting pipeline to PAUSED ...",
		"/GstPipeline:pipeline0/GstPipeWireSrc:pipewiresrc0.GstPad:src: caps = video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440",
		"Got EOS from element \"pipeline0\".",
	}, "\n")

	w, h := dimensionsFromCaps(output)
	if w != 2560 || h != 1440 {
		t.Errorf("dimensionsFromCaps() = %dx%d, want 2560x1440", w, h)
	}
	if w, h := dimensionsFromCaps("nothing useful"); w != 0 || h != 0 {
		t.Errorf("dimensionsFromCaps() = %dx%d on garbage", w, h)
	}
}

func TestPipelineArgs(t *testing.T) {
	args := pipelineArgs(42, 640, 480, 15)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"pipewiresrc path=42",
		"video/x-raw,format=RGBA,width=640,height=480,framerate=15/1",
		"fdsink fd=1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

type sinkRecorder struct {
	mu     sync.Mutex
	frames []capture.FrameEvent
	errs   chan error
}

func (s *sinkRecorder) OnSample(ev capture.FrameEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, ev)
}

func (s *sinkRecorder) OnError(err error) {
	s.errs <- err
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeLauncher writes a script that ignores its arguments and runs body
func fakeLauncher(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell launcher not available")
	}
	path := filepath.Join(t.TempDir(), "gst-launch")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipelineDeliversFramesThenReportsExit(t *testing.T) {
	// three 2x2 RGBA frames, then the process exits
	launcher := fakeLauncher(t, "head -c 48 /dev/zero")
	sink := &sinkRecorder{errs: make(chan error, 1)}
	surface := capture.Surface{ID: 9, Bounds: image.Rect(0, 0, 2, 2)}

	g := newPipeline(launcher, surface, capture.DefaultConfiguration(), sink)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	select {
	case err := <-sink.errs:
		if err == nil {
			t.Fatal("OnError(nil)")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process exit not reported")
	}

	if n := sink.count(); n != 3 {
		t.Errorf("got %d frames, want 3", n)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, ev := range sink.frames {
		if ev.Sequence != uint64(i+1) || ev.Type != capture.StreamTypeScreen {
			t.Errorf("frame %d = seq %d type %s", i, ev.Sequence, ev.Type)
		}
	}
}

func TestPipelineStartFailsWithoutFrames(t *testing.T) {
	launcher := fakeLauncher(t, "exit 1")
	sink := &sinkRecorder{errs: make(chan error, 1)}
	surface := capture.Surface{ID: 9, Bounds: image.Rect(0, 0, 2, 2)}

	g := newPipeline(launcher, surface, capture.DefaultConfiguration(), sink)
	if err := g.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded without a frame")
	}
	if err := g.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestPipelineStopEndsDelivery(t *testing.T) {
	launcher := fakeLauncher(t, "exec cat /dev/zero")
	sink := &sinkRecorder{errs: make(chan error, 1)}
	surface := capture.Surface{ID: 9, Bounds: image.Rect(0, 0, 4, 4)}

	g := newPipeline(launcher, surface, capture.DefaultConfiguration(), sink)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	n := sink.count()
	time.Sleep(20 * time.Millisecond)
	if sink.count() != n {
		t.Error("frames delivered after Stop returned")
	}
	select {
	case err := <-sink.errs:
		t.Errorf("OnError after Stop: %v", err)
	default:
	}
}
