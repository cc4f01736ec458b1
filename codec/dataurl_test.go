package codec

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient builds a buffer with varying color and alpha, including fully
// transparent pixels that still carry color.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) % 256),
				A: uint8((x * y) % 256),
			})
		}
	}
	return img
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, size := range []image.Point{{1, 1}, {7, 3}, {64, 48}} {
		src := gradient(size.X, size.Y)

		encoded, err := Encode(src)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, "data:image/png;base64,"))

		got, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, src.Bounds(), got.Bounds())
		assert.Equal(t, src.Pix, got.Pix, "size %v", size)
	}
}

func TestEncode_AlwaysPNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(8, 8), nil))
	jpegURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	img, err := Decode(jpegURL)
	require.NoError(t, err)

	out, err := Encode(img)
	require.NoError(t, err)
	p, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, MediaType, p.MediaType)
}

func TestParse(t *testing.T) {
	t.Parallel()

	png, err := EncodePNG(gradient(2, 2))
	require.NoError(t, err)
	b64 := base64.StdEncoding.EncodeToString(png)

	tests := []struct {
		name      string
		in        string
		wantErr   error
		wantMedia string
	}{
		{name: "full data url", in: "data:image/png;base64," + b64, wantMedia: "image/png"},
		{name: "charset parameter", in: "data:image/png;charset=binary;base64," + b64, wantMedia: "image/png"},
		{name: "bare comma", in: "," + b64},
		{name: "unpadded", in: "data:image/png;base64," + strings.TrimRight(b64, "="), wantMedia: "image/png"},
		{name: "no separator", in: "data:image/png;base64" + b64, wantErr: ErrMalformedPayload},
		{name: "plain base64", in: b64, wantErr: ErrMalformedPayload},
		{name: "wrong scheme", in: "http:image/png;base64," + b64, wantErr: ErrMalformedPayload},
		{name: "not base64 encoded", in: "data:image/png," + b64, wantErr: ErrMalformedPayload},
		{name: "arbitrary header", in: "foo," + b64, wantErr: ErrMalformedPayload},
		{name: "invalid base64", in: "data:image/png;base64,***", wantErr: ErrMalformedPayload},
		{name: "empty payload", in: "data:image/png;base64,", wantErr: ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMedia, got.MediaType)
			assert.Equal(t, png, got.Data)
		})
	}
}

func TestDecode_UndecodableImage(t *testing.T) {
	t.Parallel()

	in := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("definitely not an image"))
	_, err := Decode(in)
	require.ErrorIs(t, err, ErrUndecodableImage)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}

func TestPayload_DecodeConfig(t *testing.T) {
	t.Parallel()

	p, err := Parse(mustEncode(t, gradient(31, 17)))
	require.NoError(t, err)

	cfg, format, err := p.DecodeConfig()
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 31, cfg.Width)
	assert.Equal(t, 17, cfg.Height)
}

func mustEncode(t *testing.T, img image.Image) string {
	t.Helper()
	s, err := Encode(img)
	require.NoError(t, err)
	return s
}
