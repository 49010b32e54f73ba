// Package capability describes which capture features the running platform
// supports. Levels are ordered: every level implies the ones below it.
package capability

import "fmt"

// Level is a platform capability tier
type Level int

const (
	// LevelNone means the platform cannot enumerate or stream displays
	LevelNone Level = iota
	// LevelScreenCapture allows display discovery and video streams
	LevelScreenCapture
	// LevelAudioCapture additionally allows audio on the capture stream
	LevelAudioCapture
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelScreenCapture:
		return "screen"
	case LevelAudioCapture:
		return "screen+audio"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Supports reports whether l satisfies the required level
func (l Level) Supports(required Level) bool {
	return l >= required
}

// Combine folds the audio tier into a video level. Audio is only meaningful
// on top of screen capture, so a platform below LevelScreenCapture stays where
// it is regardless of audio availability.
func Combine(video Level, audioAvailable bool) Level {
	if !video.Supports(LevelScreenCapture) {
		return video
	}
	if audioAvailable {
		return LevelAudioCapture
	}
	return LevelScreenCapture
}
