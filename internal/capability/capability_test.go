package capability

import "testing"

func TestSupportsIsOrdered(t *testing.T) {
	levels := []Level{LevelNone, LevelScreenCapture, LevelAudioCapture}
	for i, have := range levels {
		for j, need := range levels {
			if got, want := have.Supports(need), i >= j; got != want {
				t.Errorf("%s.Supports(%s) = %v, want %v", have, need, got, want)
			}
		}
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		video Level
		audio bool
		want  Level
	}{
		{LevelNone, true, LevelNone},
		{LevelNone, false, LevelNone},
		{LevelScreenCapture, false, LevelScreenCapture},
		{LevelScreenCapture, true, LevelAudioCapture},
		{LevelAudioCapture, false, LevelScreenCapture},
	}
	for _, tt := range tests {
		if got := Combine(tt.video, tt.audio); got != tt.want {
			t.Errorf("Combine(%s, %v) = %s, want %s", tt.video, tt.audio, got, tt.want)
		}
	}
}

func TestUnknownLevelString(t *testing.T) {
	if Level(7).String() != "level(7)" {
		t.Errorf("unexpected String for unknown level: %s", Level(7))
	}
}
