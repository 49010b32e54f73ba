package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/logger"
	"golang.org/x/image/draw"
)

// MaxGrabFailures is how many consecutive grab errors a polling stream
// tolerates before reporting a runtime failure
const MaxGrabFailures = 5

var errStreamStopped = errors.New("stream stopped")

// GrabFunc captures one frame of a surface
type GrabFunc func() (*image.RGBA, error)

// PollingStream turns a one-shot grab function into a Stream by calling it
// at the configured frame rate. Backends without a push API use it.
type PollingStream struct {
	name    string
	cfg     Configuration
	sink    Sink
	grab    GrabFunc
	release func() error

	mu       sync.Mutex
	started  bool
	stopped  bool
	seq      uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewPollingStream builds a stream around grab. release, if non-nil, runs once on Stop.
func NewPollingStream(name string, cfg Configuration, sink Sink, grab GrabFunc, release func() error) *PollingStream {
	return &PollingStream{
		name:    name,
		cfg:     cfg,
		sink:    sink,
		grab:    grab,
		release: release,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start grabs the first frame as acknowledgment and then begins polling
func (p *PollingStream) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	first, err := p.grab()
	if err != nil {
		return fmt.Errorf("failed to grab first frame: %w", err)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errStreamStopped
	}
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("%s stream already started", p.name)
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(first)
	return nil
}

// Stop ends polling and waits for the loop to exit before releasing resources
func (p *PollingStream) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		started := p.started
		p.mu.Unlock()

		close(p.stopCh)
		if started {
			<-p.doneCh
		}
		if p.release != nil {
			p.stopErr = p.release()
		}
	})
	return p.stopErr
}

func (p *PollingStream) loop(first *image.RGBA) {
	defer close(p.doneCh)

	log := logger.WithComponent(p.name + "-stream")
	interval := time.Second / time.Duration(p.cfg.FrameRate())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.emit(first)

	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		img, err := p.grab()
		if err != nil {
			failures++
			log.Warn().Err(err).Int("consecutive_failures", failures).Msg("Failed to grab frame")
			if failures >= MaxGrabFailures {
				p.sink.OnError(fmt.Errorf("%d consecutive grab failures: %w", failures, err))
				return
			}
			continue
		}
		failures = 0

		select {
		case <-p.stopCh:
			return
		default:
		}
		p.emit(img)
	}
}

func (p *PollingStream) emit(img *image.RGBA) {
	p.seq++
	p.sink.OnSample(FrameEvent{
		Type:      StreamTypeScreen,
		Image:     ScaleFrame(img, p.cfg.Width, p.cfg.Height),
		Timestamp: time.Now(),
		Sequence:  p.seq,
	})
}

// ScaleFrame resizes img to width x height. Zero dimensions or a matching
// size return img unchanged.
func ScaleFrame(img *image.RGBA, width, height int) *image.RGBA {
	if img == nil || width <= 0 || height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
