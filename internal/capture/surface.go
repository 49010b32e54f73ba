package capture

import (
	"fmt"
	"image"
)

// Surface is one capture-eligible display as reported by a Platform.
type Surface struct {
	// ID is the platform's opaque display identifier (RandR CRTC, PipeWire node, display index)
	ID     uint32          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Bounds image.Rectangle `json:"bounds"`
	Scale  float64         `json:"scale,omitempty"`
}

// Width returns the surface width in pixels
func (s Surface) Width() int {
	return s.Bounds.Dx()
}

// Height returns the surface height in pixels
func (s Surface) Height() int {
	return s.Bounds.Dy()
}

func (s Surface) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%d (%s %dx%d)", s.ID, s.Name, s.Width(), s.Height())
	}
	return fmt.Sprintf("%d (%dx%d)", s.ID, s.Width(), s.Height())
}
