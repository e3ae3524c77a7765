package processing

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/types"
)

// createTestPNG creates an encoded image with a bright central subject
func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeDownsamplesAndThumbnails(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	out, err := p.Normalize(createTestPNG(t, 2048, 1024), nil)
	require.NoError(t, err)

	assert.Equal(t, 1024, out.Width)
	assert.Equal(t, 512, out.Height)
	assert.Nil(t, out.Location)

	w, h, err := p.Dimensions(out.Original)
	require.NoError(t, err)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 512, h)

	w, h, err = p.Dimensions(out.Thumb)
	require.NoError(t, err)
	assert.Equal(t, 300, w)
	assert.Equal(t, 150, h)
}

func TestNormalizeNeverUpscales(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	out, err := p.Normalize(createTestPNG(t, 200, 400), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, out.Width)
	assert.Equal(t, 400, out.Height)
}

func TestNormalizeUsesClientLocationWithoutExif(t *testing.T) {
	t.Parallel()

	client := &types.Location{Latitude: 35.6812, Longitude: 139.7671}
	out, err := NewProcessor().Normalize(createTestPNG(t, 64, 64), client)
	require.NoError(t, err)
	require.NotNil(t, out.Location)
	assert.Equal(t, *client, *out.Location)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor().Normalize([]byte("definitely not an image"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCropAppliesMarginAndStaysInBounds(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	src := createTestPNG(t, 1000, 800)

	out, region, err := p.Crop(src, types.PixelBox{X: 100, Y: 100, W: 200, H: 100})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(80, 90, 320, 210), region)

	w, h, err := p.Dimensions(out)
	require.NoError(t, err)
	assert.Equal(t, 240, w)
	assert.Equal(t, 120, h)

	_, region, err = p.Crop(src, types.PixelBox{X: 900, Y: 700, W: 100, H: 100})
	require.NoError(t, err)
	assert.Equal(t, 1000, region.Max.X)
	assert.Equal(t, 800, region.Max.Y)
}

func TestDMSToDecimal(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 35.6761919, round(DMSToDecimal(35, 40, 34.29084), coordinatePrecision), 1e-7)
	assert.Equal(t, 10.5, DMSToDecimal(10, 30, 0))
	assert.Equal(t, 1.2345679, round(1.23456789, coordinatePrecision))
}

func TestExtractGPSWithoutExif(t *testing.T) {
	t.Parallel()

	loc, ok := ExtractGPS(createTestPNG(t, 8, 8))
	assert.False(t, ok)
	assert.Nil(t, loc)
}

func TestCreateDebugOverlayKeepsSize(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	out := NewProcessor().CreateDebugOverlay(img, types.BoundingBox{Pixel: types.PixelBox{X: 10, Y: 10, W: 50, H: 40}})
	assert.Equal(t, img.Bounds().Size(), out.Bounds().Size())
}

type dms [3][2]uint32

// exifGPS builds a little endian TIFF block holding IFD0 with a pointer to a
// GPS IFD carrying the four coordinate tags
func exifGPS(latRef string, lat dms, lonRef string, lon dms) []byte {
	const (
		ifd0      = 8
		gpsIFD    = ifd0 + 2 + 12 + 4
		latData   = gpsIFD + 2 + 4*12 + 4
		lonData   = latData + 24
		typeASCII = 2
		typeLong  = 4
		typeRat   = 5
	)
	le := binary.LittleEndian
	var b bytes.Buffer
	u16 := func(v uint16) { _ = binary.Write(&b, le, v) }
	u32 := func(v uint32) { _ = binary.Write(&b, le, v) }
	ascii := func(tag uint16, v string) {
		u16(tag)
		u16(typeASCII)
		u32(2)
		b.Write([]byte{v[0], 0, 0, 0})
	}
	rational := func(tag uint16, offset uint32) {
		u16(tag)
		u16(typeRat)
		u32(3)
		u32(offset)
	}

	b.WriteString("II")
	u16(42)
	u32(ifd0)

	u16(1)
	u16(0x8825)
	u16(typeLong)
	u32(1)
	u32(gpsIFD)
	u32(0)

	u16(4)
	ascii(0x0001, latRef)
	rational(0x0002, latData)
	ascii(0x0003, lonRef)
	rational(0x0004, lonData)
	u32(0)

	for _, part := range append(lat[:], lon[:]...) {
		u32(part[0])
		u32(part[1])
	}
	return b.Bytes()
}

// createGPSJPEG encodes a JPEG and inserts an APP1 Exif segment after SOI
func createGPSJPEG(t *testing.T, tiffBlock []byte) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 90, 255})
		}
	}
	var enc bytes.Buffer
	require.NoError(t, jpeg.Encode(&enc, img, &jpeg.Options{Quality: 90}))
	raw := enc.Bytes()
	require.Equal(t, []byte{0xFF, 0xD8}, raw[:2])

	payload := append([]byte("Exif\x00\x00"), tiffBlock...)
	var out bytes.Buffer
	out.Write(raw[:2])
	out.Write([]byte{0xFF, 0xE1})
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint16(len(payload)+2)))
	out.Write(payload)
	out.Write(raw[2:])
	return out.Bytes()
}

// 33°51'21.91" and 58°22'54.36"
var (
	fixtureLat = dms{{33, 1}, {51, 1}, {2191, 100}}
	fixtureLon = dms{{58, 1}, {22, 1}, {5436, 100}}
)

func TestExtractGPSFromExif(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		latRef  string
		lonRef  string
		wantLat float64
		wantLon float64
	}{
		{"north east", "N", "E", 33.8560861, 58.3817667},
		{"south west", "S", "W", -33.8560861, -58.3817667},
		{"south east", "S", "E", -33.8560861, 58.3817667},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := createGPSJPEG(t, exifGPS(tt.latRef, fixtureLat, tt.lonRef, fixtureLon))
			loc, ok := ExtractGPS(data)
			require.True(t, ok)
			require.NotNil(t, loc)
			assert.InDelta(t, tt.wantLat, loc.Latitude, 1e-7)
			assert.InDelta(t, tt.wantLon, loc.Longitude, 1e-7)
		})
	}
}

func TestExtractGPSRejectsZeroDenominator(t *testing.T) {
	t.Parallel()

	bad := dms{{33, 1}, {51, 0}, {0, 1}}
	_, ok := ExtractGPS(createGPSJPEG(t, exifGPS("N", bad, "E", fixtureLon)))
	assert.False(t, ok)
}

func TestNormalizePrefersExifLocation(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	client := &types.Location{Latitude: 42.5, Longitude: 23.3}

	data := createGPSJPEG(t, exifGPS("S", fixtureLat, "W", fixtureLon))
	n, err := p.Normalize(data, client)
	require.NoError(t, err)
	require.NotNil(t, n.Location)
	assert.InDelta(t, -33.8560861, n.Location.Latitude, 1e-7)
	assert.InDelta(t, -58.3817667, n.Location.Longitude, 1e-7)
	assert.Equal(t, 64, n.Width)
	assert.Equal(t, 48, n.Height)

	// Without EXIF GPS the client location is kept
	n, err = p.Normalize(createTestPNG(t, 32, 32), client)
	require.NoError(t, err)
	assert.Equal(t, client, n.Location)
}

func TestRenderDebugOverlay(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	bbox := types.BoundingBox{Pixel: types.PixelBox{X: 20, Y: 20, W: 40, H: 30}}
	out, err := p.RenderDebugOverlay(createTestPNG(t, 100, 80), bbox)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 80), img.Bounds().Size())
	r, g, b, _ := img.At(20, 35).RGBA()
	assert.Equal(t, []uint32{0, 0xffff, 0}, []uint32{r, g, b})

	_, err = p.RenderDebugOverlay([]byte("not an image"), bbox)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
