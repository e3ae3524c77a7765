// Package cropper picks the crop subject among localized objects and computes
// the pixel region to cut from the source image.
package cropper

import (
	"math"

	"github.com/menta2k/lensclip/pkg/types"
)

// Score weights for a candidate box
const (
	ScoreWeight  = 0.5
	AreaWeight   = 0.3
	CenterWeight = 0.2

	// maxCenterDistance is the distance from the image center to a corner
	maxCenterDistance = 0.7071
)

// Candidate is a scored candidate box
type Candidate struct {
	Object     types.DetectedObject
	Box        types.Box
	AreaRatio  float64
	CenterDist float64
	Final      float64
}

// Score computes the composite score of one detected object.
// ok is false when the object has fewer than four vertices.
func Score(obj types.DetectedObject) (Candidate, bool) {
	if len(obj.Vertices) < 4 {
		return Candidate{}, false
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range obj.Vertices {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}

	w, h := maxX-minX, maxY-minY
	area := w * h
	cx, cy := minX+w/2, minY+h/2
	dist := math.Sqrt((cx-0.5)*(cx-0.5) + (cy-0.5)*(cy-0.5))
	centerBonus := 1 - math.Min(dist/maxCenterDistance, 1)

	return Candidate{
		Object:     obj,
		Box:        types.Box{X: minX, Y: minY, W: w, H: h},
		AreaRatio:  area,
		CenterDist: dist,
		Final:      ScoreWeight*obj.Score + AreaWeight*area + CenterWeight*centerBonus,
	}, true
}

// Select returns the best scoring box, or nil when no object has at least four
// vertices and a non-empty pixel area. Ties keep the earlier candidate.
func Select(objects []types.DetectedObject, imgW, imgH int) *types.BoundingBox {
	var best *Candidate
	var bestPixel types.PixelBox
	for _, obj := range objects {
		c, ok := Score(obj)
		if !ok {
			continue
		}
		px := types.PixelBox{
			X: int(c.Box.X * float64(imgW)),
			Y: int(c.Box.Y * float64(imgH)),
			W: int(c.Box.W * float64(imgW)),
			H: int(c.Box.H * float64(imgH)),
		}
		if px.W <= 0 || px.H <= 0 {
			continue
		}
		if best == nil || c.Final > best.Final {
			best = &c
			bestPixel = px
		}
	}
	if best == nil {
		return nil
	}

	return &types.BoundingBox{
		Normalized: best.Box,
		Pixel:      bestPixel,
		Score:      best.Object.Score,
		Label:      best.Object.Name,
		FinalScore: best.Final,
	}
}
