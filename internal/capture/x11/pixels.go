package x11

import (
	"image"

	"github.com/BurntSushi/xgb/xfixes"
	"golang.org/x/image/draw"
)

// convertImageData converts ZPixmap BGRX data to RGBA. Depths other than
// 24/32 produce a black frame.
func convertImageData(data []byte, width, height, depth int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if depth != 24 && depth != 32 {
		return img
	}

	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

// cursor is the pointer image in root-window coordinates
type cursor struct {
	image *image.RGBA
	// origin is the top-left corner of the image on the root window
	origin image.Point
}

func cursorFromReply(r *xfixes.GetCursorImageReply) cursor {
	w, h := int(r.Width), int(r.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, argb := range r.CursorImage {
		if i >= w*h {
			break
		}
		// XFixes pixels are premultiplied ARGB, as is image.RGBA
		o := i * 4
		img.Pix[o] = uint8(argb >> 16)
		img.Pix[o+1] = uint8(argb >> 8)
		img.Pix[o+2] = uint8(argb)
		img.Pix[o+3] = uint8(argb >> 24)
	}
	return cursor{
		image:  img,
		origin: image.Pt(int(r.X)-int(r.Xhot), int(r.Y)-int(r.Yhot)),
	}
}

// drawCursor composites c onto a frame whose top-left is surfaceMin on the root window
func drawCursor(frame *image.RGBA, surfaceMin image.Point, c cursor) {
	if c.image == nil {
		return
	}
	at := c.origin.Sub(surfaceMin)
	r := c.image.Bounds().Add(at)
	if !r.Overlaps(frame.Bounds()) {
		return
	}
	draw.Draw(frame, r, c.image, image.Point{}, draw.Over)
}
