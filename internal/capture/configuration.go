package capture

import (
	"fmt"

	"github.com/bryanchriswhite/screenshare/internal/capability"
)

// DefaultFPS is used when a Configuration leaves FPS at zero
const DefaultFPS = 30

// Configuration describes the desired capture parameters.
// It is passed by value into a session and never mutated afterwards.
//
// CapturesAudio opens an audio stream next to the video stream. Audio-tagged
// events never reach the frame observer; the session counts them as discarded.
type Configuration struct {
	ShowsCursor   bool `json:"shows_cursor" yaml:"shows_cursor"`
	CapturesAudio bool `json:"captures_audio" yaml:"captures_audio"`
	FPS           int  `json:"fps" yaml:"fps"`
	// Width and Height scale delivered frames; zero keeps the surface size
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// DefaultConfiguration matches the behavior of a bare run: cursor visible, no audio.
func DefaultConfiguration() Configuration {
	return Configuration{
		ShowsCursor:   true,
		CapturesAudio: false,
		FPS:           DefaultFPS,
	}
}

// Validate checks the type-level constraints of the configuration
func (c Configuration) Validate() error {
	if c.FPS < 0 {
		return fmt.Errorf("%w: fps must not be negative (got %d)", ErrInvalidConfiguration, c.FPS)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("%w: output size must not be negative (got %dx%d)", ErrInvalidConfiguration, c.Width, c.Height)
	}
	if (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("%w: width and height must be set together", ErrInvalidConfiguration)
	}
	return nil
}

// FrameRate returns the target FPS, falling back to DefaultFPS
func (c Configuration) FrameRate() int {
	if c.FPS <= 0 {
		return DefaultFPS
	}
	return c.FPS
}

// Resolve applies capability gating. Below the audio tier CapturesAudio is
// forced off; degraded reports whether a requested feature was dropped.
func (c Configuration) Resolve(level capability.Level) (resolved Configuration, degraded bool) {
	resolved = c
	if c.CapturesAudio && !level.Supports(capability.LevelAudioCapture) {
		resolved.CapturesAudio = false
		degraded = true
	}
	return resolved, degraded
}
