package shift

import (
	"math"
	"math/cmplx"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	ransacIterations = 2000
	ransacThreshold  = 3.0
	minInliersAbs    = 6
)

// Point is a keypoint position in working-frame pixels.
type Point struct {
	X, Y float64
}

// Similarity is a rotation+scale+translation transform:
//
//	u = A*x - B*y + TX
//	v = B*x + A*y + TY
type Similarity struct {
	A, B, TX, TY float64
}

func (s Similarity) Apply(p Point) Point {
	return Point{
		X: s.A*p.X - s.B*p.Y + s.TX,
		Y: s.B*p.X + s.A*p.Y + s.TY,
	}
}

func (s Similarity) RotationDeg() float64 {
	return math.Atan2(s.B, s.A) * 180 / math.Pi
}

func (s Similarity) Scale() float64 {
	return math.Hypot(s.A, s.B)
}

func (s Similarity) ScaleDelta() float64 {
	return math.Abs(s.Scale() - 1)
}

func (s Similarity) TranslationPx() float64 {
	return math.Hypot(s.TX, s.TY)
}

// solveMinimal fits the similarity through two exact correspondences
// using the complex form q = m*p + t.
func solveMinimal(p1, p2, q1, q2 Point) (Similarity, bool) {
	pc1 := complex(p1.X, p1.Y)
	pc2 := complex(p2.X, p2.Y)
	qc1 := complex(q1.X, q1.Y)
	qc2 := complex(q2.X, q2.Y)

	dp := pc2 - pc1
	if cmplx.Abs(dp) < 1e-9 {
		return Similarity{}, false
	}
	m := (qc2 - qc1) / dp
	t := qc1 - m*pc1
	return Similarity{
		A:  real(m),
		B:  imag(m),
		TX: real(t),
		TY: imag(t),
	}, true
}

// refine re-fits the transform over all inliers with linear least
// squares: rows [x, -y, 1, 0] and [y, x, 0, 1] against [u] and [v] for
// unknowns [A, B, TX, TY].
func refine(src, dst []Point, inliers []bool) (Similarity, bool) {
	n := 0
	for _, in := range inliers {
		if in {
			n++
		}
	}
	if n < 2 {
		return Similarity{}, false
	}

	design := mat.NewDense(2*n, 4, nil)
	rhs := mat.NewVecDense(2*n, nil)
	row := 0
	for i, in := range inliers {
		if !in {
			continue
		}
		design.SetRow(2*row, []float64{src[i].X, -src[i].Y, 1, 0})
		design.SetRow(2*row+1, []float64{src[i].Y, src[i].X, 0, 1})
		rhs.SetVec(2*row, dst[i].X)
		rhs.SetVec(2*row+1, dst[i].Y)
		row++
	}

	var qr mat.QR
	qr.Factorize(design)
	var solution mat.VecDense
	if err := qr.SolveVecTo(&solution, false, rhs); err != nil {
		return Similarity{}, false
	}
	return Similarity{
		A:  solution.AtVec(0),
		B:  solution.AtVec(1),
		TX: solution.AtVec(2),
		TY: solution.AtVec(3),
	}, true
}

func countInliers(src, dst []Point, s Similarity, threshold float64, inliers []bool) int {
	count := 0
	for i := range src {
		mapped := s.Apply(src[i])
		ok := math.Hypot(mapped.X-dst[i].X, mapped.Y-dst[i].Y) <= threshold
		inliers[i] = ok
		if ok {
			count++
		}
	}
	return count
}

// EstimateSimilarity runs random-sample consensus over the
// correspondences and refines the winning model on its inliers. It
// returns the transform, the inlier ratio over all correspondences and
// whether a model was found at all.
func EstimateSimilarity(src, dst []Point) (Similarity, float64, bool) {
	if len(src) != len(dst) || len(src) < minInliersAbs {
		return Similarity{}, 0, false
	}

	rng := rand.New(rand.NewSource(1))
	inliers := make([]bool, len(src))
	bestInliers := make([]bool, len(src))
	bestCount := 0
	var bestModel Similarity

	for iter := 0; iter < ransacIterations; iter++ {
		i := rng.Intn(len(src))
		j := rng.Intn(len(src))
		if i == j {
			continue
		}
		model, ok := solveMinimal(src[i], src[j], dst[i], dst[j])
		if !ok {
			continue
		}
		count := countInliers(src, dst, model, ransacThreshold, inliers)
		if count > bestCount {
			bestCount = count
			bestModel = model
			copy(bestInliers, inliers)
		}
	}
	if bestCount < minInliersAbs {
		return Similarity{}, 0, false
	}

	if refined, ok := refine(src, dst, bestInliers); ok {
		refinedCount := countInliers(src, dst, refined, ransacThreshold, inliers)
		if refinedCount >= bestCount {
			bestModel = refined
			bestCount = refinedCount
		}
	}
	return bestModel, float64(bestCount) / float64(len(src)), true
}
