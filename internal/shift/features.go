// Package shift detects camera drift by comparing live frames against a
// baseline: corner keypoints with binary patch descriptors are matched
// across frames and a similarity transform is estimated with RANSAC; the
// transform's rotation, translation and scale tell whether the view
// moved.
package shift

import (
	"image"
	"math/rand"
)

const (
	workingWidth   = 640
	fastThreshold  = 20
	fastArcLength  = 9
	patchRadius    = 15
	descriptorBits = 256
	cellSize       = 16
)

// Feature is one keypoint plus its 256-bit binary descriptor.
type Feature struct {
	X, Y  float64
	Score int
	Desc  [descriptorBits / 8]byte
}

// grayFrame is the blurred grayscale working image all detection runs on.
type grayFrame struct {
	pix  []uint8
	w, h int
}

func (f *grayFrame) at(x, y int) uint8 {
	return f.pix[y*f.w+x]
}

// newGrayFrame downscales to the working width, converts to luma and
// applies a 3x3 box blur to suppress sensor noise.
func newGrayFrame(img image.Image) *grayFrame {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return &grayFrame{w: 0, h: 0}
	}

	w := workingWidth
	if srcW < workingWidth {
		w = srcW
	}
	h := srcH * w / srcW
	if h == 0 {
		h = 1
	}

	gray := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma on 16-bit channel values.
			gray[y*w+x] = uint8((299*r + 587*g + 114*b) / 1000 >> 8)
		}
	}

	blurred := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, n int
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					sum += int(gray[ny*w+nx])
					n++
				}
			}
			blurred[y*w+x] = uint8(sum / n)
		}
	}
	return &grayFrame{pix: blurred, w: w, h: h}
}

// Bresenham circle of radius 3 used by the segment test.
var circleOffsets = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// cornerScore returns a positive score when the 16-pixel circle around
// (x, y) contains a contiguous arc of at least fastArcLength pixels all
// brighter or all darker than the center by the threshold.
func cornerScore(f *grayFrame, x, y int) int {
	center := int(f.at(x, y))

	var brighter, darker [32]bool
	for i, off := range circleOffsets {
		v := int(f.at(x+off[0], y+off[1]))
		brighter[i] = v > center+fastThreshold
		darker[i] = v < center-fastThreshold
		brighter[i+16] = brighter[i]
		darker[i+16] = darker[i]
	}

	hasArc := func(flags *[32]bool) bool {
		run := 0
		for i := 0; i < 32; i++ {
			if flags[i] {
				run++
				if run >= fastArcLength {
					return true
				}
			} else {
				run = 0
			}
		}
		return false
	}
	if !hasArc(&brighter) && !hasArc(&darker) {
		return 0
	}

	score := 0
	for _, off := range circleOffsets {
		d := int(f.at(x+off[0], y+off[1])) - center
		if d < 0 {
			d = -d
		}
		score += d
	}
	return score
}

// descriptorPattern holds the fixed point-pair comparisons; generated
// once from a fixed seed so descriptors are comparable across frames and
// process restarts.
var descriptorPattern = buildDescriptorPattern()

func buildDescriptorPattern() [descriptorBits][4]int {
	rng := rand.New(rand.NewSource(0x5eed))
	var pattern [descriptorBits][4]int
	for i := range pattern {
		for j := 0; j < 4; j++ {
			pattern[i][j] = rng.Intn(2*patchRadius-3) - (patchRadius - 2)
		}
	}
	return pattern
}

func describe(f *grayFrame, x, y int) [descriptorBits / 8]byte {
	var desc [descriptorBits / 8]byte
	for i, p := range descriptorPattern {
		a := f.at(x+p[0], y+p[1])
		b := f.at(x+p[2], y+p[3])
		if a < b {
			desc[i/8] |= 1 << (i % 8)
		}
	}
	return desc
}

// DetectAndDescribe extracts up to maxFeatures corner features from the
// frame. Detection keeps at most the strongest corner per grid cell,
// which spreads keypoints across the view instead of clustering them on
// one textured region.
func DetectAndDescribe(img image.Image, maxFeatures int) []Feature {
	f := newGrayFrame(img)
	border := patchRadius + 1
	if f.w <= 2*border || f.h <= 2*border {
		return nil
	}

	cols := (f.w + cellSize - 1) / cellSize
	rows := (f.h + cellSize - 1) / cellSize
	best := make([]Feature, cols*rows)

	for y := border; y < f.h-border; y++ {
		for x := border; x < f.w-border; x++ {
			score := cornerScore(f, x, y)
			if score == 0 {
				continue
			}
			cell := (y/cellSize)*cols + x/cellSize
			if score > best[cell].Score {
				best[cell] = Feature{X: float64(x), Y: float64(y), Score: score}
			}
		}
	}

	features := make([]Feature, 0, len(best))
	for _, c := range best {
		if c.Score > 0 {
			features = append(features, c)
		}
	}

	// Strongest first, truncated to the cap.
	for i := 1; i < len(features); i++ {
		for j := i; j > 0 && features[j].Score > features[j-1].Score; j-- {
			features[j], features[j-1] = features[j-1], features[j]
		}
	}
	if maxFeatures > 0 && len(features) > maxFeatures {
		features = features[:maxFeatures]
	}

	for i := range features {
		features[i].Desc = describe(f, int(features[i].X), int(features[i].Y))
	}
	return features
}
