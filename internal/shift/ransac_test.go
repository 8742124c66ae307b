package shift

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridPoints(n int) []Point {
	points := make([]Point, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			points = append(points, Point{X: float64(40 + i*35), Y: float64(40 + j*30)})
		}
	}
	return points
}

func transformAll(src []Point, s Similarity) []Point {
	dst := make([]Point, len(src))
	for i := range src {
		dst[i] = s.Apply(src[i])
	}
	return dst
}

func similarityFrom(rotationDeg, scale, tx, ty float64) Similarity {
	rad := rotationDeg * math.Pi / 180
	return Similarity{
		A:  scale * math.Cos(rad),
		B:  scale * math.Sin(rad),
		TX: tx,
		TY: ty,
	}
}

func TestEstimateSimilarityIdentity(t *testing.T) {
	src := gridPoints(6)
	model, ratio, ok := EstimateSimilarity(src, src)
	require.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 1e-9)
	assert.InDelta(t, 0.0, model.RotationDeg(), 0.01)
	assert.InDelta(t, 0.0, model.TranslationPx(), 0.01)
	assert.InDelta(t, 0.0, model.ScaleDelta(), 0.001)
}

func TestEstimateSimilarityRecoversKnownTransform(t *testing.T) {
	truth := similarityFrom(2.0, 1.01, 5, -3)
	src := gridPoints(6)
	dst := transformAll(src, truth)

	model, ratio, ok := EstimateSimilarity(src, dst)
	require.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 1e-9)
	assert.InDelta(t, 2.0, model.RotationDeg(), 0.05)
	assert.InDelta(t, 0.01, model.ScaleDelta(), 0.002)
	assert.InDelta(t, math.Hypot(5, -3), model.TranslationPx(), 0.2)
}

func TestEstimateSimilarityToleratesOutliers(t *testing.T) {
	truth := similarityFrom(-1.5, 1.0, 12, 7)
	src := gridPoints(6)
	dst := transformAll(src, truth)

	// Corrupt a fifth of the correspondences.
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < len(dst)/5; i++ {
		j := rng.Intn(len(dst))
		dst[j].X += 120 + rng.Float64()*80
		dst[j].Y -= 90 + rng.Float64()*60
	}

	model, ratio, ok := EstimateSimilarity(src, dst)
	require.True(t, ok)
	assert.Greater(t, ratio, 0.7)
	assert.InDelta(t, -1.5, model.RotationDeg(), 0.1)
	assert.InDelta(t, math.Hypot(12, 7), model.TranslationPx(), 0.5)
}

func TestEstimateSimilarityRejectsTooFewPoints(t *testing.T) {
	src := gridPoints(2)[:3]
	_, _, ok := EstimateSimilarity(src, src)
	assert.False(t, ok)

	_, _, ok = EstimateSimilarity(gridPoints(3), gridPoints(2))
	assert.False(t, ok)
}

func TestSimilarityDerivedScalars(t *testing.T) {
	s := similarityFrom(90, 2, 3, 4)
	assert.InDelta(t, 90.0, s.RotationDeg(), 1e-9)
	assert.InDelta(t, 2.0, s.Scale(), 1e-9)
	assert.InDelta(t, 1.0, s.ScaleDelta(), 1e-9)
	assert.InDelta(t, 5.0, s.TranslationPx(), 1e-9)
}
