package scan

import (
	"image"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// ProbeResult holds display metadata read from an image file's headers.
type ProbeResult struct {
	Width   int
	Height  int
	TakenAt int64 // unix seconds, 0 when the file carries no capture time
}

// Probe reads pixel dimensions from the image header (no full decode) and
// the EXIF capture time when present. Files without EXIF are not an error —
// the zero fields just stay unknown.
func Probe(path string) ProbeResult {
	var res ProbeResult

	f, err := os.Open(path)
	if err != nil {
		return res
	}
	defer f.Close()

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		res.Width = cfg.Width
		res.Height = cfg.Height
	}

	if _, err := f.Seek(0, 0); err != nil {
		return res
	}
	x, err := exif.Decode(f)
	if err != nil {
		return res // no EXIF — not an error
	}
	if t, err := x.DateTime(); err == nil {
		res.TakenAt = t.Unix()
	}
	return res
}
