package scan

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// dHash grid: 9 columns × 8 rows of grayscale pixels yield 64 bits, one per
// adjacent-pixel comparison per row.
const (
	dhashCols = 9
	dhashRows = 8
)

// Fingerprint computes the 64-bit difference hash of the image at path.
// Visually similar images produce fingerprints with a low Hamming distance
// even across recompression or resizing.
func Fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode %q: %w", path, err)
	}
	return dhash(src), nil
}

// dhash downsamples src to a 9×8 grayscale grid and emits one bit per
// left-vs-right luminance comparison, row-major, most significant bit first.
func dhash(src image.Image) uint64 {
	gray := image.NewGray(image.Rect(0, 0, dhashCols, dhashRows))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	var hash uint64
	for y := 0; y < dhashRows; y++ {
		for x := 0; x < dhashCols-1; x++ {
			hash <<= 1
			if gray.GrayAt(x, y).Y > gray.GrayAt(x+1, y).Y {
				hash |= 1
			}
		}
	}
	return hash
}
