package pipeline

import (
	"errors"
	"fmt"

	"github.com/redevil1/rembg-gui/background"
	"github.com/redevil1/rembg-gui/codec"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultMaxPixels      = 40_000_000
)

// Limits bounds the size of accepted images. Zero values fall back to the
// defaults above.
type Limits struct {
	MaxUploadBytes int64
	MaxPixels      int
}

func (l Limits) withDefaults() Limits {
	if l.MaxUploadBytes <= 0 {
		l.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	return l
}

// AddBackgroundRequest is the JSON body of an add-background call. Empty
// strings count as absent.
type AddBackgroundRequest struct {
	Foreground      string `json:"foreground"`
	BackgroundColor string `json:"backgroundColor"`
	BackgroundImage string `json:"backgroundImage"`
}

// addBackgroundInput is a request whose structure has been checked; pixels
// are not decoded yet.
type addBackgroundInput struct {
	foreground *codec.Payload
	color      string
	background *codec.Payload
}

// CheckUpload validates the size of a remove-background upload.
func (l Limits) CheckUpload(size int64) error {
	l = l.withDefaults()
	if size <= 0 {
		return callerError(NoImageProvided, "No image provided", nil)
	}
	if size > l.MaxUploadBytes {
		return callerError(FileTooLarge, fileTooLargeMessage(l.MaxUploadBytes), nil)
	}
	return nil
}

func fileTooLargeMessage(limit int64) string {
	if limit%(1<<20) == 0 {
		return fmt.Sprintf("File too large. Maximum size is %dMB", limit>>20)
	}
	return fmt.Sprintf("File too large. Maximum size is %d bytes", limit)
}

// validateAddBackground checks presence and structure of every field before
// any image is decoded.
func (l Limits) validateAddBackground(req AddBackgroundRequest) (*addBackgroundInput, error) {
	l = l.withDefaults()

	if req.Foreground == "" {
		return nil, callerError(NoForegroundProvided, "No foreground image provided", nil)
	}
	fg, err := codec.Parse(req.Foreground)
	if err != nil {
		return nil, callerError(InvalidForegroundFormat, "Invalid foreground image format", err)
	}
	if int64(len(fg.Data)) > l.MaxUploadBytes {
		return nil, callerError(FileTooLarge, fileTooLargeMessage(l.MaxUploadBytes), nil)
	}

	in := &addBackgroundInput{foreground: fg}

	switch {
	case req.BackgroundColor != "" && req.BackgroundImage != "":
		return nil, callerError(ConflictingBackgroundSpec, "Provide either a background color or a background image, not both", nil)

	case req.BackgroundColor != "":
		hex, err := background.NormalizeColor(req.BackgroundColor)
		if err != nil {
			return nil, callerError(InvalidColorFormat, "Invalid color format. Use #RGB or #RRGGBB", err)
		}
		in.color = hex

	case req.BackgroundImage != "":
		bg, err := codec.Parse(req.BackgroundImage)
		if err != nil {
			return nil, callerError(InvalidBackgroundFormat, "Invalid background image format", err)
		}
		if int64(len(bg.Data)) > l.MaxUploadBytes {
			return nil, callerError(FileTooLarge, fileTooLargeMessage(l.MaxUploadBytes), nil)
		}
		in.background = bg

	default:
		return nil, callerError(NoBackgroundSpecProvided, "No background color or image provided", nil)
	}

	return in, nil
}

// checkDimensions rejects images whose header announces more pixels than
// allowed, before any pixel memory is allocated.
func (l Limits) checkDimensions(p *codec.Payload, what string) error {
	l = l.withDefaults()
	cfg, _, err := p.DecodeConfig()
	if err != nil {
		return processingError(UndecodableImage, fmt.Sprintf("Could not decode %s image", what), err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return processingError(UndecodableImage, fmt.Sprintf("Could not decode %s image", what), errors.New("empty image"))
	}
	if cfg.Width*cfg.Height > l.MaxPixels {
		return callerError(ImageTooLarge,
			fmt.Sprintf("The %s image is %dx%d, which exceeds the %d pixel limit", what, cfg.Width, cfg.Height, l.MaxPixels), nil)
	}
	return nil
}
