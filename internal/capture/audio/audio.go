// Package audio provides the audio tier for capture platforms using miniaudio
// through github.com/gen2brain/malgo.
package audio

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/gen2brain/malgo"
)

// Capture format
const (
	SampleRate = 48000
	Channels   = 2
	Format     = malgo.FormatS16
)

// Source is a capture.AudioSource over the default system capture device.
// On Windows the default output is captured in loopback mode.
type Source struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	initErr error
}

// NewSource returns a source. The miniaudio context is created on first use.
func NewSource() *Source {
	return &Source{}
}

func deviceType() malgo.DeviceType {
	if runtime.GOOS == "windows" {
		return malgo.Loopback
	}
	return malgo.Capture
}

// init creates the miniaudio context once. Caller holds s.mu.
func (s *Source) init() error {
	if s.ctx != nil || s.initErr != nil {
		return s.initErr
	}
	log := logger.WithComponent("audio")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("miniaudio", message).Msg("Audio backend message")
	})
	if err != nil {
		s.initErr = fmt.Errorf("failed to init audio context: %w", err)
		return s.initErr
	}
	s.ctx = ctx
	return nil
}

// Available reports whether at least one capture device exists
func (s *Source) Available(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("audio")
	if err := s.init(); err != nil {
		log.Warn().Err(err).Msg("Audio capture unavailable")
		return false
	}

	kind := deviceType()
	if kind == malgo.Loopback {
		// loopback captures playback devices
		kind = malgo.Playback
	}
	devices, err := s.ctx.Devices(kind)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate audio devices")
		return false
	}
	log.Debug().Int("devices", len(devices)).Msg("Audio devices")
	return len(devices) > 0
}

// OpenStream prepares a capture device stream. The device is created on Start.
func (s *Source) OpenStream(cfg capture.Configuration, sink capture.Sink) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.init(); err != nil {
		return nil, err
	}
	return &stream{ctx: s.ctx, sink: sink}, nil
}

// Close frees the miniaudio context
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return nil
	}
	err := s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	return err
}

type stream struct {
	ctx  *malgo.AllocatedContext
	sink capture.Sink

	mu       sync.Mutex
	device   *malgo.Device
	stopped  bool
	seq      uint64
	stopOnce sync.Once
}

var errStopped = errors.New("audio stream stopped")

// Start opens and starts the device. A successful device start is the acknowledgment.
func (a *stream) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType())
	deviceConfig.Capture.Format = Format
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: a.onData,
		Stop: a.onStop,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return errStopped
	}

	device, err := malgo.InitDevice(a.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to init audio device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	a.device = device
	logger.WithComponent("audio").Info().Int("sample_rate", SampleRate).Int("channels", Channels).Msg("Audio capture started")
	return nil
}

// onData runs on the miniaudio thread. The input buffer is reused after return.
func (a *stream) onData(pOutput, pInput []byte, frameCount uint32) {
	if frameCount == 0 || len(pInput) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	samples := make([]byte, len(pInput))
	copy(samples, pInput)
	a.seq++
	a.sink.OnSample(capture.FrameEvent{
		Type:      capture.StreamTypeAudio,
		Samples:   samples,
		Timestamp: time.Now(),
		Sequence:  a.seq,
	})
}

// onStop fires when the device stops, including on unplug
func (a *stream) onStop() {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if !stopped {
		a.sink.OnError(errors.New("audio device stopped unexpectedly"))
	}
}

// Stop marks the stream stopped, then uninitializes the device
func (a *stream) Stop() error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		device := a.device
		a.device = nil
		a.mu.Unlock()

		if device != nil {
			device.Uninit()
		}
	})
	return nil
}
