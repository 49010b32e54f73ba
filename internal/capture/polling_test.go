package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []FrameEvent
	errs   chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{errs: make(chan error, 1)}
}

func (r *recordingSink) OnSample(ev FrameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) OnError(err error) {
	r.errs <- err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func solidFrame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestPollingStreamDeliversInOrder(t *testing.T) {
	sink := newRecordingSink()
	grab := func() (*image.RGBA, error) { return solidFrame(8, 8), nil }
	released := false
	s := NewPollingStream("test", Configuration{FPS: 200}, sink, grab, func() error {
		released = true
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !released {
		t.Error("release func not called")
	}

	n := sink.count()
	if n < 3 {
		t.Fatalf("got %d frames, want at least 3", n)
	}
	time.Sleep(20 * time.Millisecond)
	if sink.count() != n {
		t.Fatal("frames delivered after Stop returned")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, ev := range sink.events {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Sequence)
		}
		if ev.Type != StreamTypeScreen {
			t.Fatalf("event %d has type %q", i, ev.Type)
		}
	}
}

func TestPollingStreamFirstGrabIsAcknowledgment(t *testing.T) {
	cause := errors.New("BadMatch")
	s := NewPollingStream("test", Configuration{}, newRecordingSink(), func() (*image.RGBA, error) {
		return nil, cause
	}, nil)

	if err := s.Start(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("Start() = %v, want wrapped cause", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestPollingStreamReportsRepeatedFailures(t *testing.T) {
	sink := newRecordingSink()
	var mu sync.Mutex
	calls := 0
	grab := func() (*image.RGBA, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return solidFrame(2, 2), nil
		}
		return nil, errors.New("connection closed")
	}

	s := NewPollingStream("test", Configuration{FPS: 500}, sink, grab, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	select {
	case err := <-sink.errs:
		if err == nil {
			t.Fatal("OnError(nil)")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no runtime error after repeated grab failures")
	}
}

func TestPollingStreamStopBeforeStart(t *testing.T) {
	s := NewPollingStream("test", Configuration{}, newRecordingSink(), func() (*image.RGBA, error) {
		return solidFrame(1, 1), nil
	}, nil)
	s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() after Stop succeeded")
	}
}

func TestScaleFrame(t *testing.T) {
	src := solidFrame(100, 50)
	if got := ScaleFrame(src, 0, 0); got != src {
		t.Error("zero size should return the source frame")
	}
	if got := ScaleFrame(src, 100, 50); got != src {
		t.Error("matching size should return the source frame")
	}
	got := ScaleFrame(src, 40, 20)
	if got.Bounds().Dx() != 40 || got.Bounds().Dy() != 20 {
		t.Errorf("scaled bounds = %v, want 40x20", got.Bounds())
	}
}
