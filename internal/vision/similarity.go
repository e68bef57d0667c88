package vision

import (
	"context"
	"fmt"
	"image"
	"math/bits"

	"golang.org/x/image/draw"

	"parking-service/internal/cache"
	"parking-service/internal/domain/parking"
)

const hashSide = 8

// AverageHash shrinks img to 8x8 grey and sets one bit per pixel brighter
// than the mean.
func AverageHash(img image.Image) uint64 {
	small := image.NewGray(image.Rect(0, 0, hashSide, hashSide))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range small.Pix {
		sum += int(p)
	}
	mean := sum / len(small.Pix)

	var hash uint64
	for i, p := range small.Pix {
		if int(p) > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// SimilarityDetector answers "still occupied" by comparing the spot crop
// with the last image seen occupying it. Near-identical crops mean the same
// vehicle is still parked.
type SimilarityDetector struct {
	lastSeen  *cache.LastSeen
	threshold int
}

var _ VehicleDetector = (*SimilarityDetector)(nil)

func NewSimilarityDetector(lastSeen *cache.LastSeen, threshold int) *SimilarityDetector {
	return &SimilarityDetector{lastSeen: lastSeen, threshold: threshold}
}

func (d *SimilarityDetector) DetectVehicle(_ context.Context, key parking.SpotKey, frame image.Image, box image.Rectangle) (bool, error) {
	ref, ok := d.lastSeen.Get(key)
	if !ok {
		return false, fmt.Errorf("%w: no reference image for %s", parking.ErrVisionFailure, key)
	}
	crop, err := Crop(frame, box)
	if err != nil {
		return false, err
	}
	return Hamming(AverageHash(crop), ref.Hash) <= d.threshold, nil
}
