// Package codec converts images to and from base64 data URLs.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/redevil1/rembg-gui/matte"
)

// MediaType is the only format Encode emits. PNG keeps alpha and is lossless.
const MediaType = "image/png"

const dataPrefix = "data:"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUndecodableImage = errors.New("undecodable image")
)

// Payload is a parsed data URL.
type Payload struct {
	MediaType string
	Data      []byte
}

// Parse splits a data URL at the first comma and base64-decodes the rest.
// An empty header is accepted, matching browsers that send a bare payload
// after a leading comma.
func Parse(s string) (*Payload, error) {
	header, data, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing ',' separator", ErrMalformedPayload)
	}

	var mediaType string
	if header = strings.TrimSpace(header); header != "" {
		if !strings.HasPrefix(header, dataPrefix) {
			return nil, fmt.Errorf("%w: header must start with %q", ErrMalformedPayload, dataPrefix)
		}
		params := strings.Split(strings.TrimPrefix(header, dataPrefix), ";")
		if params[len(params)-1] != "base64" {
			return nil, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformedPayload)
		}
		mediaType = params[0]
	}

	raw, err := decodeBase64(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	return &Payload{MediaType: mediaType, Data: raw}, nil
}

func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	// Some clients strip the padding.
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// DecodeConfig returns the dimensions and format of the payload without
// decoding its pixels.
func (p *Payload) DecodeConfig() (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	return cfg, format, nil
}

// Image decodes the payload into a straight-alpha buffer.
func (p *Payload) Image() (*image.NRGBA, error) {
	return DecodeBytes(p.Data)
}

// Decode parses a data URL and decodes its image.
func Decode(s string) (*image.NRGBA, error) {
	p, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return p.Image()
}

// DecodeBytes decodes raw image bytes in any registered format.
func DecodeBytes(data []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrUndecodableImage)
	}
	return matte.ToNRGBA(img), nil
}

// Encode writes img as a PNG data URL.
func Encode(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return EncodeBytes(data), nil
}

// EncodePNG returns the PNG encoding of img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBytes wraps already PNG-encoded bytes in a data URL.
func EncodeBytes(data []byte) string {
	return dataPrefix + MediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
