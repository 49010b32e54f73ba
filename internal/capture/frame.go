package capture

import (
	"image"
	"time"
)

// StreamType tags the channel a FrameEvent was produced on
type StreamType string

const (
	StreamTypeScreen StreamType = "screen"
	StreamTypeAudio  StreamType = "audio"
)

// FrameEvent is one delivered unit of captured data. It is not retained by
// the session; observers must copy anything they keep past OnFrame.
type FrameEvent struct {
	Type      StreamType
	Image     *image.RGBA // set for StreamTypeScreen
	Samples   []byte      // interleaved PCM for StreamTypeAudio
	Timestamp time.Time
	Sequence  uint64
}

// Observer receives screen frames for the lifetime of a session.
// OnFrame runs on the stream's delivery goroutine and must return quickly.
// It must not call Session.Stop.
type Observer interface {
	OnFrame(ev FrameEvent)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev FrameEvent)

// OnFrame calls f(ev)
func (f ObserverFunc) OnFrame(ev FrameEvent) {
	f(ev)
}
