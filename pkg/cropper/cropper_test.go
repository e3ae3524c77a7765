package cropper

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/lensclip/pkg/types"
)

// rect builds a four-vertex object from a normalized box
func rect(name string, score, x, y, w, h float64) types.DetectedObject {
	return types.DetectedObject{
		Name:  name,
		Score: score,
		Vertices: []types.Vertex{
			{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h},
		},
	}
}

func TestScoreComposite(t *testing.T) {
	t.Parallel()

	// Centered box: full center bonus
	c, ok := Score(rect("cat", 0.8, 0.25, 0.25, 0.5, 0.5))
	require.True(t, ok)
	assert.InDelta(t, 0.25, c.AreaRatio, 1e-9)
	assert.InDelta(t, 0.0, c.CenterDist, 1e-9)
	assert.InDelta(t, 0.5*0.8+0.3*0.25+0.2*1.0, c.Final, 1e-9)

	// Corner box: center bonus clamps to zero
	c, ok = Score(rect("corner", 1.0, 0.9, 0.9, 0.1, 0.1))
	require.True(t, ok)
	assert.Greater(t, c.CenterDist, 0.5)
	bonus := 1 - min(c.CenterDist/0.7071, 1)
	assert.InDelta(t, 0.5+0.3*0.01+0.2*bonus, c.Final, 1e-9)

	c, ok = Score(rect("outside", 0.0, 1.2, 1.2, 0.1, 0.1))
	require.True(t, ok)
	assert.InDelta(t, 0.3*0.01, c.Final, 1e-9)
}

func TestScoreRequiresFourVertices(t *testing.T) {
	t.Parallel()

	_, ok := Score(types.DetectedObject{Name: "line", Score: 1, Vertices: []types.Vertex{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 0}}})
	assert.False(t, ok)
}

func TestSelectHigherCompositeRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	weak := rect("leaf", 0.9, 0.0, 0.0, 0.1, 0.1)
	strong := rect("beetle", 0.7, 0.2, 0.2, 0.6, 0.6)

	for _, objs := range [][]types.DetectedObject{{weak, strong}, {strong, weak}} {
		sel := Select(objs, 1000, 800)
		require.NotNil(t, sel)
		assert.Equal(t, "beetle", sel.Label)
	}
}

func TestSelectTieKeepsFirst(t *testing.T) {
	t.Parallel()

	a := rect("first", 0.6, 0.3, 0.3, 0.4, 0.4)
	b := rect("second", 0.6, 0.3, 0.3, 0.4, 0.4)
	sel := Select([]types.DetectedObject{a, b}, 100, 100)
	require.NotNil(t, sel)
	assert.Equal(t, "first", sel.Label)
}

func TestSelectPixelsTruncate(t *testing.T) {
	t.Parallel()

	sel := Select([]types.DetectedObject{rect("cup", 0.5, 0.1234, 0.5678, 0.3333, 0.2222)}, 1000, 999)
	require.NotNil(t, sel)
	assert.Equal(t, types.PixelBox{X: 123, Y: 567, W: 333, H: 221}, sel.Pixel)
	assert.Equal(t, 0.5, sel.Score)
}

func TestSelectNoCandidate(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Select(nil, 100, 100))
	assert.Nil(t, Select([]types.DetectedObject{{Name: "x", Score: 1, Vertices: []types.Vertex{{X: 0.1, Y: 0.1}}}}, 100, 100))
	assert.Nil(t, Select([]types.DetectedObject{rect("point", 0.9, 0.5, 0.5, 0, 0)}, 400, 300))
	assert.Nil(t, Select([]types.DetectedObject{rect("line", 0.9, 0.1, 0.5, 0.8, 0)}, 400, 300))
	// Smaller than one pixel after truncation
	assert.Nil(t, Select([]types.DetectedObject{rect("dot", 0.9, 0.5, 0.5, 0.001, 0.001)}, 400, 300))
}

func TestSelectSkipsEmptyBoxes(t *testing.T) {
	t.Parallel()

	objects := []types.DetectedObject{
		rect("point", 1.0, 0.5, 0.5, 0, 0),
		rect("dog", 0.4, 0.1, 0.1, 0.3, 0.3),
	}
	sel := Select(objects, 400, 300)
	require.NotNil(t, sel)
	assert.Equal(t, "dog", sel.Label)
	assert.Equal(t, types.PixelBox{X: 40, Y: 30, W: 120, H: 90}, sel.Pixel)
}

func TestRegionAddsMargin(t *testing.T) {
	t.Parallel()

	r := Region(types.PixelBox{X: 100, Y: 100, W: 200, H: 100}, 1000, 1000)
	assert.Equal(t, 80, r.Min.X)
	assert.Equal(t, 90, r.Min.Y)
	assert.Equal(t, 240, r.Dx())
	assert.Equal(t, 120, r.Dy())
}

func TestRegionClampsAtEdges(t *testing.T) {
	t.Parallel()

	r := Region(types.PixelBox{X: 0, Y: 0, W: 100, H: 100}, 100, 100)
	assert.Equal(t, 0, r.Min.X)
	assert.Equal(t, 0, r.Min.Y)
	assert.Equal(t, 100, r.Max.X)
	assert.Equal(t, 100, r.Max.Y)

	r = Region(types.PixelBox{X: 950, Y: 700, W: 50, H: 100}, 1000, 800)
	assert.LessOrEqual(t, r.Max.X, 1000)
	assert.LessOrEqual(t, r.Max.Y, 800)
}

func TestRegionNeverExceedsBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		imgW, imgH := 1+rng.Intn(2000), 1+rng.Intn(2000)
		obj := rect("o", rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64())
		// Clamp generated vertices into the unit square like the service does
		for j := range obj.Vertices {
			obj.Vertices[j].X = min(obj.Vertices[j].X, 1)
			obj.Vertices[j].Y = min(obj.Vertices[j].Y, 1)
		}
		sel := Select([]types.DetectedObject{obj}, imgW, imgH)
		if sel == nil {
			// Sub-pixel boxes are never selected
			continue
		}
		assert.Positive(t, sel.Pixel.W)
		assert.Positive(t, sel.Pixel.H)

		r := Region(sel.Pixel, imgW, imgH)
		assert.GreaterOrEqual(t, r.Min.X, 0)
		assert.GreaterOrEqual(t, r.Min.Y, 0)
		assert.LessOrEqual(t, r.Max.X, imgW)
		assert.LessOrEqual(t, r.Max.Y, imgH)
	}
}
