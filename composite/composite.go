// Package composite blends a straight-alpha foreground over an opaque
// background of the same size.
package composite

import (
	"errors"
	"fmt"
	"image"
)

// ErrSizeMismatch means the caller synthesized a background for the wrong
// size. It is a programming error, not bad input.
var ErrSizeMismatch = errors.New("background and foreground sizes differ")

// Over returns fg composited over bg using linear alpha blending:
//
//	out = fg*a + bg*(1-a), outA = 1
//
// The background's own alpha is ignored; it is treated as opaque.
func Over(bg, fg *image.NRGBA) (*image.NRGBA, error) {
	bs, fs := bg.Bounds().Size(), fg.Bounds().Size()
	if bs != fs {
		return nil, fmt.Errorf("%w: background %dx%d, foreground %dx%d", ErrSizeMismatch, bs.X, bs.Y, fs.X, fs.Y)
	}

	out := image.NewNRGBA(image.Rect(0, 0, fs.X, fs.Y))
	for y := 0; y < fs.Y; y++ {
		bRow := bg.Pix[bg.PixOffset(bg.Rect.Min.X, bg.Rect.Min.Y+y):]
		fRow := fg.Pix[fg.PixOffset(fg.Rect.Min.X, fg.Rect.Min.Y+y):]
		oRow := out.Pix[y*out.Stride:]
		for x := 0; x < fs.X*4; x += 4 {
			a := uint32(fRow[x+3])
			oRow[x] = blend(fRow[x], bRow[x], a)
			oRow[x+1] = blend(fRow[x+1], bRow[x+1], a)
			oRow[x+2] = blend(fRow[x+2], bRow[x+2], a)
			oRow[x+3] = 255
		}
	}
	return out, nil
}

func blend(f, b uint8, a uint32) uint8 {
	return uint8((uint32(f)*a + uint32(b)*(255-a) + 127) / 255)
}

// Flatten drops the alpha channel. The result reports Opaque, so the PNG
// encoder writes it as 3-channel truecolor.
func Flatten(img *image.NRGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx()*4; x += 4 {
			dst[x] = src[x]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+2]
			dst[x+3] = 255
		}
	}
	return out
}
