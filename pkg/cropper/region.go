package cropper

import (
	"image"

	"github.com/menta2k/lensclip/pkg/types"
)

// MarginRatio is the margin added on each side of the selected box
const MarginRatio = 0.1

// Region expands the pixel box by the margin and clamps it to the image bounds
func Region(px types.PixelBox, imgW, imgH int) image.Rectangle {
	marginX := int(float64(px.W) * MarginRatio)
	marginY := int(float64(px.H) * MarginRatio)

	x := max(0, px.X-marginX)
	y := max(0, px.Y-marginY)
	x = min(x, imgW)
	y = min(y, imgH)
	w := min(imgW-x, px.W+2*marginX)
	h := min(imgH-y, px.H+2*marginY)
	w = max(w, 0)
	h = max(h, 0)

	return image.Rect(x, y, x+w, y+h)
}
