package shift

import (
	"math/bits"
)

const (
	matchRatio       = 0.75
	minGoodMatches   = 12
	maxMatchDistance = 80
)

// Match pairs a baseline feature index with a current-frame feature index.
type Match struct {
	BaselineIdx int
	CurrentIdx  int
	Distance    int
}

func hamming(a, b *[descriptorBits / 8]byte) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// MatchFeatures finds, for every baseline feature, its two nearest
// current-frame descriptors by Hamming distance and keeps the pair only
// when the best is clearly better than the runner-up (Lowe ratio test).
func MatchFeatures(baseline, current []Feature) []Match {
	if len(baseline) == 0 || len(current) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(baseline))
	for i := range baseline {
		best := -1
		bestDist, secondDist := descriptorBits+1, descriptorBits+1
		for j := range current {
			d := hamming(&baseline[i].Desc, &current[j].Desc)
			switch {
			case d < bestDist:
				secondDist = bestDist
				best, bestDist = j, d
			case d < secondDist:
				secondDist = d
			}
		}
		if best < 0 || bestDist > maxMatchDistance {
			continue
		}
		if secondDist <= descriptorBits && float64(bestDist) >= matchRatio*float64(secondDist) {
			continue
		}
		matches = append(matches, Match{BaselineIdx: i, CurrentIdx: best, Distance: bestDist})
	}
	return matches
}
