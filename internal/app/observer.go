package app

import (
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/rs/zerolog"
)

// FrameLogger is the default observer: it logs every frame at debug level
// and a throughput line at most once per interval
type FrameLogger struct {
	log      *zerolog.Logger
	interval time.Duration

	frames   atomic.Uint64
	lastLog  atomic.Int64
	lastSeen atomic.Uint64
}

// NewFrameLogger logs throughput every 5 seconds
func NewFrameLogger() *FrameLogger {
	return &FrameLogger{
		log:      logger.WithComponent("observer"),
		interval: 5 * time.Second,
	}
}

// OnFrame implements capture.Observer
func (f *FrameLogger) OnFrame(ev capture.FrameEvent) {
	n := f.frames.Add(1)

	f.log.Debug().
		Str("type", string(ev.Type)).
		Uint64("seq", ev.Sequence).
		Msg("Got screen frame")

	now := ev.Timestamp.UnixNano()
	last := f.lastLog.Load()
	if n == 1 {
		f.lastLog.Store(now)
		e := f.log.Info()
		if ev.Image != nil {
			e = e.Int("width", ev.Image.Bounds().Dx()).Int("height", ev.Image.Bounds().Dy())
		}
		e.Msg("Got first screen frame")
		return
	}
	if time.Duration(now-last) < f.interval || !f.lastLog.CompareAndSwap(last, now) {
		return
	}

	prev := f.lastSeen.Swap(n)
	elapsed := time.Duration(now - last).Seconds()
	f.log.Info().
		Uint64("frames", n).
		Float64("fps", float64(n-prev)/elapsed).
		Msg("Receiving screen frames")
}

// Frames returns how many frames were observed
func (f *FrameLogger) Frames() uint64 {
	return f.frames.Load()
}
