// Package matte holds alpha-channel helpers shared by the segmentation and
// compositing stages.
package matte

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

var ErrNoForeground = errors.New("no foreground pixels above threshold")

// ToNRGBA returns img as a straight-alpha buffer whose bounds start at (0,0).
// An *image.NRGBA that already starts at the origin is returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HasUsefulAlpha reports whether any pixel is not fully opaque.
func HasUsefulAlpha(img *image.NRGBA) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 255 {
				return true
			}
		}
	}
	return false
}

// Stats summarises the alpha channel of a segmentation result.
type Stats struct {
	Transparent int
	Partial     int
	Opaque      int
	// Subject is the bounding box of pixels with alpha above half coverage.
	Subject image.Rectangle
}

// Degenerate is true when every pixel has the same alpha, i.e. the mask
// carries no foreground/background separation.
func (s Stats) Degenerate() bool {
	total := s.Transparent + s.Partial + s.Opaque
	return s.Partial == 0 && (s.Transparent == total || s.Opaque == total)
}

func Inspect(img *image.NRGBA) Stats {
	var s Stats
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			switch a := img.Pix[row+x*4+3]; a {
			case 0:
				s.Transparent++
			case 255:
				s.Opaque++
			default:
				s.Partial++
			}
		}
	}
	if bbox, err := AlphaBBox(img, 0.5); err == nil {
		s.Subject = bbox
	}
	return s
}

// AlphaBBox returns the bounding box of pixels whose alpha exceeds
// threshold*255.
func AlphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] <= th {
				continue
			}
			found = true
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, ErrNoForeground
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}
