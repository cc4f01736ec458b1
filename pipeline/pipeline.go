// Package pipeline implements the two operations of the service: removing an
// image's background, and compositing a cut-out over a new background.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/redevil1/rembg-gui/background"
	"github.com/redevil1/rembg-gui/codec"
	"github.com/redevil1/rembg-gui/composite"
	"github.com/redevil1/rembg-gui/matte"
	"github.com/redevil1/rembg-gui/rembg"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type Service struct {
	remover rembg.Remover
	limits  Limits
}

func New(remover rembg.Remover, limits Limits) *Service {
	return &Service{remover: remover, limits: limits.withDefaults()}
}

func (s *Service) Limits() Limits {
	return s.limits
}

// RemoveBackground segments data and returns the cut-out as a PNG data URL.
func (s *Service) RemoveBackground(ctx context.Context, data []byte) (string, error) {
	l := log.Ctx(ctx)

	if err := s.limits.CheckUpload(int64(len(data))); err != nil {
		return "", err
	}

	// Undecodable uploads still go to the model, which owns format support.
	var inputSize image.Point
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if cfg.Width*cfg.Height > s.limits.MaxPixels {
			return "", callerError(ImageTooLarge,
				fmt.Sprintf("The image is %dx%d, which exceeds the %d pixel limit", cfg.Width, cfg.Height, s.limits.MaxPixels), nil)
		}
		inputSize = image.Pt(cfg.Width, cfg.Height)
	}

	start := time.Now()
	out, err := s.remover.Remove(ctx, data)
	if err != nil {
		return "", processingError(SegmentationFailed, "Failed to remove background", err)
	}
	l.Debug().Dur("took", time.Since(start)).Int("bytes", len(out)).Msg("segmentation finished")

	img, err := codec.DecodeBytes(out)
	if err != nil {
		return "", processingError(SegmentationFailed, "Failed to remove background", err)
	}

	if inputSize != (image.Point{}) && img.Bounds().Size() != inputSize {
		return "", processingError(SegmentationFailed, "Failed to remove background",
			fmt.Errorf("segmentation changed image size from %v to %v", inputSize, img.Bounds().Size()))
	}

	stats := matte.Inspect(img)
	switch {
	case !matte.HasUsefulAlpha(img):
		l.Warn().Int("pixels", stats.Opaque).Msg("segmentation output is fully opaque")
	case stats.Degenerate():
		l.Warn().Int("pixels", stats.Transparent).Msg("segmentation mask is empty")
	default:
		l.Debug().
			Int("opaque", stats.Opaque).
			Int("partial", stats.Partial).
			Int("transparent", stats.Transparent).
			Str("subject", stats.Subject.String()).
			Msg("segmentation mask")
	}

	if bytes.HasPrefix(out, pngMagic) {
		return codec.EncodeBytes(out), nil
	}
	encoded, err := codec.Encode(img)
	if err != nil {
		return "", internalError(err)
	}
	return encoded, nil
}

// AddBackground composites req.Foreground over the requested background and
// returns an opaque PNG data URL of the foreground's size.
func (s *Service) AddBackground(ctx context.Context, req AddBackgroundRequest) (string, error) {
	in, err := s.limits.validateAddBackground(req)
	if err != nil {
		return "", err
	}

	var fg, bgSrc *image.NRGBA
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fg, err = s.decode(gctx, in.foreground, "foreground")
		return err
	})
	if in.background != nil {
		g.Go(func() error {
			var err error
			bgSrc, err = s.decode(gctx, in.background, "background")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	spec := background.Spec{Color: in.color}
	if bgSrc != nil {
		spec.Image = bgSrc
	}
	bg, err := background.Synthesize(spec, fg.Bounds().Size())
	if err != nil {
		if errors.Is(err, background.ErrInvalidColor) {
			return "", callerError(InvalidColorFormat, "Invalid color format. Use #RGB or #RRGGBB", err)
		}
		return "", internalError(err)
	}

	out, err := composite.Over(bg, fg)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("composite invariant violated")
		return "", internalError(err)
	}

	encoded, err := codec.Encode(composite.Flatten(out))
	if err != nil {
		return "", internalError(err)
	}
	return encoded, nil
}

func (s *Service) decode(ctx context.Context, p *codec.Payload, what string) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.limits.checkDimensions(p, what); err != nil {
		return nil, err
	}
	img, err := p.Image()
	if err != nil {
		return nil, processingError(UndecodableImage, fmt.Sprintf("Could not decode %s image", what), err)
	}
	return img, nil
}
