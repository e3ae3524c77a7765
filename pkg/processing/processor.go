package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/cropper"
	"github.com/menta2k/lensclip/pkg/types"
)

// Encoding tiers
const (
	DefaultMaxDimension   = 1024
	DefaultThumbDimension = 300
	DefaultQuality        = 80
	DefaultThumbQuality   = 70
)

// Processor decodes, resizes and re-encodes observation images
type Processor struct {
	MaxDimension   int
	ThumbDimension int
	Quality        int
	ThumbQuality   int
}

// NewProcessor creates a processor with the default encoding tiers
func NewProcessor() *Processor {
	return &Processor{
		MaxDimension:   DefaultMaxDimension,
		ThumbDimension: DefaultThumbDimension,
		Quality:        DefaultQuality,
		ThumbQuality:   DefaultThumbQuality,
	}
}

// Normalized is the output of Normalize
type Normalized struct {
	Original []byte
	Thumb    []byte
	Width    int
	Height   int
	Location *types.Location
}

// Normalize decodes an upload, applies orientation, resolves its location and
// produces the re-encoded original and thumbnail. EXIF coordinates win over
// the client supplied ones; missing or corrupt GPS never fails the upload.
func (p *Processor) Normalize(data []byte, client *types.Location) (*Normalized, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}

	loc, ok := ExtractGPS(data)
	if !ok {
		loc = client
	}

	resized := Fit(img, p.MaxDimension)
	original, err := Encode(resized, p.Quality)
	if err != nil {
		return nil, err
	}

	thumb, err := Encode(Fit(img, p.ThumbDimension), p.ThumbQuality)
	if err != nil {
		return nil, err
	}

	b := resized.Bounds()
	return &Normalized{
		Original: original,
		Thumb:    thumb,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Location: loc,
	}, nil
}

// Decode decodes image bytes with EXIF orientation applied and WebP support
func (p *Processor) Decode(data []byte) (image.Image, error) {
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, errors.Newf("image: unknown or unsupported format").
		Category(errors.CategoryValidation).
		Component("processing").
		Context("size", len(data)).
		Build()
}

// Fit scales img down so its longest side is at most maxDim, never upscaling
func Fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// Encode encodes img as lossy WebP at the given quality
func Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	opts := &webp.Options{Lossless: false, Quality: float32(quality)}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, errors.New(fmt.Errorf("webp encode: %w", err)).
			Category(errors.CategoryImageProcessing).
			Component("processing").
			Build()
	}
	return buf.Bytes(), nil
}

// Crop cuts the selected box plus margin out of the encoded source and
// re-encodes it at the original quality tier
func (p *Processor) Crop(data []byte, px types.PixelBox) ([]byte, image.Rectangle, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, image.Rectangle{}, err
	}

	b := img.Bounds()
	region := cropper.Region(px, b.Dx(), b.Dy())
	if region.Empty() {
		return nil, region, errors.Newf("empty crop rectangle").
			Category(errors.CategoryImageProcessing).
			Component("processing").
			Context("region", region.String()).
			Build()
	}

	cropped := imaging.Crop(img, region.Add(b.Min))
	out, err := Encode(cropped, p.Quality)
	if err != nil {
		return nil, region, err
	}
	return out, region, nil
}

// Dimensions returns the pixel size of encoded image bytes
func (p *Processor) Dimensions(data []byte) (int, int, error) {
	img, err := p.Decode(data)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// RenderDebugOverlay decodes data, draws the overlay for bbox and returns it as PNG
func (p *Processor) RenderDebugOverlay(data []byte, bbox types.BoundingBox) ([]byte, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, p.CreateDebugOverlay(img, bbox), imaging.PNG); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryImageProcessing).
			Component("processing").
			Context("stage", "overlay").
			Build()
	}
	return buf.Bytes(), nil
}

// CreateDebugOverlay draws the selected box and the expanded crop region
func (p *Processor) CreateDebugOverlay(img image.Image, bbox types.BoundingBox) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // selected box
	gold := color.NRGBA{255, 204, 0, 255} // crop region
	blue := color.NRGBA{0, 170, 255, 255} // image center
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	drawRect(nrgba, image.Rect(bbox.Pixel.X, bbox.Pixel.Y, bbox.Pixel.X+bbox.Pixel.W, bbox.Pixel.Y+bbox.Pixel.H), green, stroke)
	drawRect(nrgba, cropper.Region(bbox.Pixel, w, h), gold, stroke)

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
