package x11

import (
	"image"
	"image/color"
	"testing"

	"github.com/BurntSushi/xgb/xfixes"
)

func TestConvertImageDataSwapsChannels(t *testing.T) {
	// two BGRX pixels: blue, then red
	data := []byte{
		0xff, 0x00, 0x00, 0x00,
		0x00, 0x00, 0xff, 0x00,
	}
	img := convertImageData(data, 2, 1, 24)

	if got := img.RGBAAt(0, 0); got != (color.RGBA{B: 0xff, A: 0xff}) {
		t.Errorf("pixel 0 = %v, want blue", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{R: 0xff, A: 0xff}) {
		t.Errorf("pixel 1 = %v, want red", got)
	}
}

func TestConvertImageDataShortBuffer(t *testing.T) {
	img := convertImageData([]byte{1, 2, 3, 4, 5}, 4, 4, 24)
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 3, G: 2, B: 1, A: 255}) {
		t.Errorf("pixel 0 = %v", got)
	}
	if got := img.RGBAAt(1, 0); got.A != 0 {
		t.Errorf("pixel past the data should be untouched, got %v", got)
	}
}

func TestConvertImageDataUnsupportedDepth(t *testing.T) {
	img := convertImageData([]byte{1, 2, 3, 4}, 1, 1, 16)
	if got := img.RGBAAt(0, 0); got.A != 0 {
		t.Errorf("16-bit depth should yield an empty frame, got %v", got)
	}
}

func TestCursorCompositing(t *testing.T) {
	reply := &xfixes.GetCursorImageReply{
		X: 105, Y: 52,
		Width: 2, Height: 2,
		Xhot: 1, Yhot: 1,
		CursorImage: []uint32{0xffffffff, 0xffffffff, 0xffffffff, 0x00000000},
	}
	c := cursorFromReply(reply)
	if c.origin != image.Pt(104, 51) {
		t.Fatalf("cursor origin = %v, want (104,51)", c.origin)
	}

	// surface starts at (100,50) on the root window
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	drawCursor(frame, image.Pt(100, 50), c)

	if got := frame.RGBAAt(4, 1); got != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("cursor pixel = %v, want white", got)
	}
	if got := frame.RGBAAt(5, 2); got.A != 0 {
		t.Errorf("transparent cursor pixel painted: %v", got)
	}
	if got := frame.RGBAAt(0, 0); got.A != 0 {
		t.Errorf("pixel outside cursor painted: %v", got)
	}
}

func TestCursorOffSurfaceIsSkipped(t *testing.T) {
	c := cursorFromReply(&xfixes.GetCursorImageReply{
		X: 5000, Y: 5000, Width: 1, Height: 1,
		CursorImage: []uint32{0xffffffff},
	})
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	drawCursor(frame, image.Pt(0, 0), c)
	for _, b := range frame.Pix {
		if b != 0 {
			t.Fatal("cursor outside the surface was drawn")
		}
	}
}
