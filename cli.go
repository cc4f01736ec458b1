package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/redevil1/rembg-gui/codec"
	"github.com/redevil1/rembg-gui/config"
	"github.com/redevil1/rembg-gui/matte"
	"github.com/redevil1/rembg-gui/pipeline"
	"github.com/redevil1/rembg-gui/rembg"
	"github.com/redevil1/rembg-gui/util"
	httputil "github.com/redevil1/rembg-gui/util/http"
)

func ioFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "input image path or http(s) URL")
	fs.StringP("output", "o", "", "output PNG path")
}

func ioPaths(fs *pflag.FlagSet) (string, string, error) {
	input, _ := fs.GetString("input")
	output, _ := fs.GetString("output")
	if input == "" || output == "" {
		return "", "", errors.New("both --input and --output are required")
	}
	return input, output, nil
}

func runRemove(ctx context.Context, args []string) error {
	v := viper.New()
	fs := newFlagSet("remove", v)
	ioFlags(fs)

	cfg, err := loadConfig(v, fs, args)
	if err != nil {
		return err
	}
	input, output, err := ioPaths(fs)
	if err != nil {
		return err
	}

	data, err := util.ReadSource(ctx, httputil.NewHTTPClient(), input)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	result, err := svc.RemoveBackground(ctx, data)
	if err != nil {
		return err
	}
	return writeResult(output, result)
}

func runCompose(ctx context.Context, args []string) error {
	v := viper.New()
	fs := newFlagSet("compose", v)
	ioFlags(fs)
	fs.String("color", "", "background color, #RGB or #RRGGBB")
	fs.String("background", "", "background image path or http(s) URL")

	cfg, err := loadConfig(v, fs, args)
	if err != nil {
		return err
	}
	input, output, err := ioPaths(fs)
	if err != nil {
		return err
	}
	color, _ := fs.GetString("color")
	bgSource, _ := fs.GetString("background")

	client := httputil.NewHTTPClient()
	fg, err := util.LoadImage(ctx, client, input)
	if err != nil {
		return fmt.Errorf("failed to load foreground: %w", err)
	}
	if !matte.HasUsefulAlpha(fg) {
		log.Warn().Str("input", input).Msg("foreground has no transparency, run remove first")
	}
	fgURL, err := codec.Encode(fg)
	if err != nil {
		return err
	}
	req := pipeline.AddBackgroundRequest{
		Foreground:      fgURL,
		BackgroundColor: color,
	}
	if bgSource != "" {
		bg, err := util.LoadImage(ctx, client, bgSource)
		if err != nil {
			return fmt.Errorf("failed to load background: %w", err)
		}
		if req.BackgroundImage, err = codec.Encode(bg); err != nil {
			return err
		}
	}

	// Compositing never calls the segmentation backend.
	svc := pipeline.New(rembg.NewNoop(), cfg.PipelineLimits())
	result, err := svc.AddBackground(ctx, req)
	if err != nil {
		return err
	}
	return writeResult(output, result)
}

func newService(cfg *config.Config) (*pipeline.Service, error) {
	remover, err := rembg.New(cfg.RembgOptions())
	if err != nil {
		return nil, err
	}
	return pipeline.New(remover, cfg.PipelineLimits()), nil
}

func writeResult(path, dataURL string) error {
	p, err := codec.Parse(dataURL)
	if err != nil {
		return err
	}
	if err := util.WriteFile(path, p.Data); err != nil {
		return err
	}
	log.Info().Str("output", path).Int("bytes", len(p.Data)).Msg("Done!")
	return nil
}
