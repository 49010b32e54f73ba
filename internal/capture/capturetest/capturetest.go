// Package capturetest provides a scripted capture.Platform for tests.
package capturetest

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/bryanchriswhite/screenshare/internal/capture"
)

// ErrStopped is returned by a blocked Start when the stream is stopped
var ErrStopped = errors.New("capturetest: stream stopped")

// Platform is a capture.Platform whose results are set by the test
type Platform struct {
	Surfaces      []capture.Surface
	Level         capability.Level
	CapabilityErr error
	DiscoverErr   error
	OpenErr       error
	StartErr      error
	// BlockStart makes Start wait until its context is cancelled or the stream is stopped
	BlockStart bool
	// EarlyEvents are emitted from inside Start, before it acknowledges
	EarlyEvents []capture.StreamType

	mu            sync.Mutex
	discoverCalls int
	streams       []*Stream
	closed        bool
}

// NewPlatform returns a platform at LevelScreenCapture reporting surfaces
func NewPlatform(surfaces ...capture.Surface) *Platform {
	return &Platform{
		Surfaces: surfaces,
		Level:    capability.LevelScreenCapture,
	}
}

// Surface builds a 1920x1080 surface with the given id
func Surface(id uint32) capture.Surface {
	return capture.Surface{ID: id, Bounds: image.Rect(0, 0, 1920, 1080), Scale: 1}
}

func (p *Platform) Name() string {
	return "fake"
}

func (p *Platform) Capability(ctx context.Context) (capability.Level, error) {
	return p.Level, p.CapabilityErr
}

func (p *Platform) Discover(ctx context.Context, opts capture.DiscoveryOptions) ([]capture.Surface, error) {
	p.mu.Lock()
	p.discoverCalls++
	p.mu.Unlock()

	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	return append([]capture.Surface(nil), p.Surfaces...), nil
}

func (p *Platform) OpenStream(surface capture.Surface, cfg capture.Configuration, sink capture.Sink) (capture.Stream, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	s := &Stream{
		Surface:  surface,
		Config:   cfg,
		sink:     sink,
		startErr: p.StartErr,
		block:    p.BlockStart,
		early:    p.EarlyEvents,
		stopCh:   make(chan struct{}),
	}

	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// DiscoverCalls returns how many times Discover ran
func (p *Platform) DiscoverCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoverCalls
}

// Closed reports whether Close was called
func (p *Platform) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// LastStream returns the most recently opened stream, or nil
func (p *Platform) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Stream is a capture.Stream driven by Emit and Fail
type Stream struct {
	Surface capture.Surface
	Config  capture.Configuration

	sink     capture.Sink
	startErr error
	block    bool
	early    []capture.StreamType

	mu       sync.Mutex
	started  bool
	stopped  bool
	seq      uint64
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (s *Stream) Start(ctx context.Context) error {
	if s.block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrStopped
		}
	}
	for _, t := range s.early {
		s.Emit(t)
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopCh)
	})
	return nil
}

// Emit pushes one event of type t to the sink. It does not check whether the
// stream was stopped, so tests can exercise the session's own filtering.
func (s *Stream) Emit(t capture.StreamType) {
	s.mu.Lock()
	s.seq++
	ev := capture.FrameEvent{
		Type:      t,
		Timestamp: time.Now(),
		Sequence:  s.seq,
	}
	s.mu.Unlock()

	switch t {
	case capture.StreamTypeScreen:
		ev.Image = image.NewRGBA(image.Rect(0, 0, 4, 4))
	default:
		ev.Samples = make([]byte, 16)
	}
	s.sink.OnSample(ev)
}

// Fail reports err on the stream's error side channel
func (s *Stream) Fail(err error) {
	s.sink.OnError(err)
}

// Started reports whether Start succeeded
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stopped reports whether Stop was called
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Recorder is an Observer that keeps every delivered event
type Recorder struct {
	mu     sync.Mutex
	events []capture.FrameEvent
}

func (r *Recorder) OnFrame(ev capture.FrameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the delivered events
func (r *Recorder) Events() []capture.FrameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capture.FrameEvent(nil), r.events...)
}

// Len returns the number of delivered events
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
