// Package processing normalizes uploaded observation images: decoding,
// orientation, GPS extraction, downsampling, WebP re-encoding and cropping.
package processing

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/menta2k/lensclip/pkg/types"
)

// coordinatePrecision is the number of decimals kept for coordinates
const coordinatePrecision = 7

// ExtractGPS reads the EXIF GPS block. ok is false when the block is absent or malformed.
func ExtractGPS(data []byte) (*types.Location, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	lat, err := coordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef, "S")
	if err != nil {
		return nil, false
	}
	lon, err := coordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef, "W")
	if err != nil {
		return nil, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, false
	}

	return &types.Location{Latitude: lat, Longitude: lon}, true
}

func coordinate(x *exif.Exif, field, refField exif.FieldName, negativeRef string) (float64, error) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, err
	}
	ref, err := x.Get(refField)
	if err != nil {
		return 0, err
	}
	refVal, err := ref.StringVal()
	if err != nil {
		return 0, err
	}

	dec, err := dmsToDecimal(tag)
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(strings.TrimSpace(refVal), negativeRef) {
		dec = -dec
	}
	return round(dec, coordinatePrecision), nil
}

func dmsToDecimal(tag *tiff.Tag) (float64, error) {
	if tag.Count != 3 {
		return 0, fmt.Errorf("gps: expected 3 rationals, got %d", tag.Count)
	}
	var parts [3]float64
	for i := range parts {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, fmt.Errorf("gps: zero denominator")
		}
		parts[i] = float64(num) / float64(den)
	}
	return DMSToDecimal(parts[0], parts[1], parts[2]), nil
}

// DMSToDecimal converts degrees, minutes and seconds into decimal degrees
func DMSToDecimal(deg, minutes, seconds float64) float64 {
	return deg + minutes/60 + seconds/3600
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
