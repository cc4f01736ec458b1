// Package util loads source images for the command line modes.
package util

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/redevil1/rembg-gui/codec"
	httputil "github.com/redevil1/rembg-gui/util/http"
)

const downloadTimeout = 30 * time.Second

var ErrEmptySource = errors.New("empty image source")

// IsURL reports whether src should be downloaded rather than opened.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// ReadSource returns the raw bytes of a local path or an http(s) URL.
func ReadSource(ctx context.Context, client httputil.IClient, src string) ([]byte, error) {
	if src == "" {
		return nil, ErrEmptySource
	}
	if IsURL(src) {
		return Download(ctx, client, src)
	}
	return os.ReadFile(filepath.Clean(src))
}

// Download fetches url and returns the response body.
func Download(ctx context.Context, client httputil.IClient, url string) ([]byte, error) {
	var data []byte
	err := client.DoHTTPRequest(ctx, &httputil.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   &data,
		Timeout:    downloadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	log.Ctx(ctx).Debug().Str("url", url).Int("bytes", len(data)).Msg("downloaded image")
	return data, nil
}

// LoadImage reads and decodes a local path or an http(s) URL.
func LoadImage(ctx context.Context, client httputil.IClient, src string) (*image.NRGBA, error) {
	data, err := ReadSource(ctx, client, src)
	if err != nil {
		return nil, err
	}
	img, err := codec.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return img, nil
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
