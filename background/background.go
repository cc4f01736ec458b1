// Package background synthesizes opaque backgrounds of an exact size, either
// from a hex color or by stretching another image.
package background

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"

	"github.com/redevil1/rembg-gui/composite"
	"github.com/redevil1/rembg-gui/matte"
)

var (
	ErrInvalidColor = errors.New("invalid color format, use #RGB or #RRGGBB")
	ErrMissingSpec  = errors.New("no background color or image provided")
	ErrInvalidSize  = errors.New("invalid background size")
)

// Spec selects how the background is produced. Exactly one field is set.
type Spec struct {
	Color string
	Image image.Image
}

// Synthesize builds a background of the given size from spec. Color wins when
// both fields are set; callers are expected to reject that case earlier.
func Synthesize(spec Spec, size image.Point) (*image.NRGBA, error) {
	switch {
	case spec.Color != "":
		return FromColor(spec.Color, size)
	case spec.Image != nil:
		return FromImage(spec.Image, size)
	default:
		return nil, ErrMissingSpec
	}
}

// NormalizeColor strips an optional leading '#' and expands the 3-digit
// shorthand, returning "#rrggbb".
func NormalizeColor(spec string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(spec), "#")
	if len(hex) != 3 && len(hex) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, spec)
	}
	for _, c := range hex {
		if !isHexDigit(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidColor, spec)
		}
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	return "#" + strings.ToLower(hex), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ParseColor returns the opaque color described by spec.
func ParseColor(spec string) (color.NRGBA, error) {
	hex, err := NormalizeColor(spec)
	if err != nil {
		return color.NRGBA{}, err
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %v", ErrInvalidColor, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// FromColor returns a uniform opaque buffer of exactly size.
func FromColor(spec string, size image.Point) (*image.NRGBA, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	c, err := ParseColor(spec)
	if err != nil {
		return nil, err
	}
	return imaging.New(size.X, size.Y, c), nil
}

// FromImage stretches src to exactly size with Lanczos3 resampling. Any
// transparency in src is flattened onto black first, so the result does not
// depend on whether a resize was needed. Aspect ratio is not preserved.
func FromImage(src image.Image, size image.Point) (*image.NRGBA, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if src == nil || src.Bounds().Empty() {
		return nil, ErrMissingSpec
	}

	out, err := onBlack(src)
	if err != nil {
		return nil, err
	}
	if out.Bounds().Size() == size {
		return out, nil
	}

	out = matte.ToNRGBA(resize.Resize(uint(size.X), uint(size.Y), out, resize.Lanczos3))
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out, nil
}

// onBlack returns an opaque copy of src composited over black.
func onBlack(src image.Image) (*image.NRGBA, error) {
	fg := matte.ToNRGBA(src)
	b := fg.Bounds()
	return composite.Over(imaging.New(b.Dx(), b.Dy(), color.NRGBA{A: 255}), fg)
}

func checkSize(size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.X, size.Y)
	}
	return nil
}
