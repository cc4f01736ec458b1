package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/redevil1/rembg-gui/codec"
)

type MockRemover struct{ mock.Mock }

func (m *MockRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	args := m.Called(ctx, data)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// cutout keeps a centered disc opaque and clears everything else, the way a
// segmentation model would for a centered subject.
func cutout(src image.Image) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	cx, cy, r := b.Dx()/2, b.Dy()/2, min(b.Dx(), b.Dy())/3
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy > r*r {
				c.A = 0
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func dataURL(t *testing.T, img image.Image) string {
	t.Helper()
	s, err := codec.Encode(img)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code Code, kind Kind) {
	t.Helper()
	require.Error(t, err)
	pe := AsError(err)
	assert.Equal(t, code, pe.Code, "error: %v", err)
	assert.Equal(t, kind, pe.Kind)
	assert.NotEmpty(t, pe.Message)
	assert.ErrorIs(t, err, &Error{Code: code})
}

func TestService_RemoveBackground(t *testing.T) {
	t.Parallel()

	input := pngBytes(t, solid(40, 30, color.NRGBA{R: 200, G: 10, B: 10, A: 255}))
	segmented := pngBytes(t, cutout(solid(40, 30, color.NRGBA{R: 200, G: 10, B: 10, A: 255})))

	remover := &MockRemover{}
	remover.On("Remove", mock.Anything, input).Return(segmented, nil).Once()

	got, err := New(remover, Limits{}).RemoveBackground(context.Background(), input)
	require.NoError(t, err)
	remover.AssertExpectations(t)

	assert.Equal(t, codec.EncodeBytes(segmented), got)

	img, err := codec.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 30), img.Bounds().Size())
	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(20, 15).A)
}

func TestService_RemoveBackground_ReencodesNonPNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(8, 8, color.NRGBA{G: 255, A: 255}), nil))

	remover := &MockRemover{}
	remover.On("Remove", mock.Anything, mock.Anything).Return(buf.Bytes(), nil)

	got, err := New(remover, Limits{}).RemoveBackground(context.Background(), []byte("original upload"))
	require.NoError(t, err)

	p, err := codec.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.MediaType)
	assert.True(t, bytes.HasPrefix(p.Data, pngMagic))
}

func TestService_RemoveBackground_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    []byte
		limits   Limits
		out      []byte
		err      error
		noCall   bool
		wantCode Code
		wantKind Kind
	}{
		{name: "empty upload", input: nil, noCall: true, wantCode: NoImageProvided, wantKind: KindCaller},
		{name: "too large", input: bytes.Repeat([]byte{1}, 101), limits: Limits{MaxUploadBytes: 100}, noCall: true, wantCode: FileTooLarge, wantKind: KindCaller},
		{name: "too many pixels", input: pngBytes(t, solid(20, 20, color.NRGBA{A: 255})), limits: Limits{MaxPixels: 399}, noCall: true, wantCode: ImageTooLarge, wantKind: KindCaller},
		{name: "model failure", input: []byte("not an image"), err: errors.New("model crashed"), wantCode: SegmentationFailed, wantKind: KindProcessing},
		{name: "model returns garbage", input: []byte("img"), out: []byte("garbage"), wantCode: SegmentationFailed, wantKind: KindProcessing},
		{name: "model changes size", input: pngBytes(t, solid(40, 30, color.NRGBA{A: 255})), out: pngBytes(t, solid(20, 15, color.NRGBA{A: 255})), wantCode: SegmentationFailed, wantKind: KindProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			remover := &MockRemover{}
			remover.On("Remove", mock.Anything, mock.Anything).Return(tt.out, tt.err)

			_, err := New(remover, tt.limits).RemoveBackground(context.Background(), tt.input)
			requireCode(t, err, tt.wantCode, tt.wantKind)
			if tt.noCall {
				remover.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestService_AddBackground_Color(t *testing.T) {
	t.Parallel()

	svc := New(&MockRemover{}, Limits{})

	t.Run("transparent foreground shows background", func(t *testing.T) {
		t.Parallel()
		got, err := svc.AddBackground(context.Background(), AddBackgroundRequest{
			Foreground:      dataURL(t, solid(12, 7, color.NRGBA{R: 9, G: 9, B: 9, A: 0})),
			BackgroundColor: "#0af",
		})
		require.NoError(t, err)

		img, err := codec.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(12, 7), img.Bounds().Size())
		assert.Equal(t, solid(12, 7, color.NRGBA{R: 0x00, G: 0xaa, B: 0xff, A: 255}).Pix, img.Pix)
	})

	t.Run("opaque foreground hides background", func(t *testing.T) {
		t.Parallel()
		fg := solid(5, 9, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
		got, err := svc.AddBackground(context.Background(), AddBackgroundRequest{
			Foreground:      dataURL(t, fg),
			BackgroundColor: "FFFFFF",
		})
		require.NoError(t, err)

		img, err := codec.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, fg.Pix, img.Pix)
	})

	t.Run("output has no alpha channel", func(t *testing.T) {
		t.Parallel()
		got, err := svc.AddBackground(context.Background(), AddBackgroundRequest{
			Foreground:      dataURL(t, cutout(solid(16, 16, color.NRGBA{R: 255, A: 255}))),
			BackgroundColor: "#000",
		})
		require.NoError(t, err)

		p, err := codec.Parse(got)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(p.Data))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Width)
		assert.Equal(t, byte(2), p.Data[25], "expected truecolor PNG without alpha")
	})
}

func TestService_AddBackground_ImageIsStretched(t *testing.T) {
	t.Parallel()

	fg := solid(30, 60, color.NRGBA{})
	bg := solid(200, 50, color.NRGBA{R: 10, G: 200, B: 30, A: 128})

	got, err := New(&MockRemover{}, Limits{}).AddBackground(context.Background(), AddBackgroundRequest{
		Foreground:      dataURL(t, fg),
		BackgroundImage: dataURL(t, bg),
	})
	require.NoError(t, err)

	img, err := codec.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 60), img.Bounds().Size())
	for i := 0; i < len(img.Pix); i += 4 {
		require.Equal(t, uint8(255), img.Pix[i+3])
		require.InDelta(t, 200, int(img.Pix[i+1]), 2)
	}
}

func TestService_AddBackground_Errors(t *testing.T) {
	t.Parallel()

	fg := dataURL(t, solid(4, 4, color.NRGBA{A: 255}))
	junk := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("junk"))

	tests := []struct {
		name     string
		req      AddBackgroundRequest
		limits   Limits
		wantCode Code
		wantKind Kind
	}{
		{name: "no foreground", req: AddBackgroundRequest{BackgroundColor: "#fff"}, wantCode: NoForegroundProvided, wantKind: KindCaller},
		{name: "foreground without separator", req: AddBackgroundRequest{Foreground: "abc", BackgroundColor: "#fff"}, wantCode: InvalidForegroundFormat, wantKind: KindCaller},
		{name: "foreground bad base64", req: AddBackgroundRequest{Foreground: "data:image/png;base64,@@@", BackgroundColor: "#fff"}, wantCode: InvalidForegroundFormat, wantKind: KindCaller},
		{name: "short color", req: AddBackgroundRequest{Foreground: fg, BackgroundColor: "#12"}, wantCode: InvalidColorFormat, wantKind: KindCaller},
		{name: "non hex color", req: AddBackgroundRequest{Foreground: fg, BackgroundColor: "#ggg"}, wantCode: InvalidColorFormat, wantKind: KindCaller},
		{name: "background without separator", req: AddBackgroundRequest{Foreground: fg, BackgroundImage: "nope"}, wantCode: InvalidBackgroundFormat, wantKind: KindCaller},
		{name: "neither background", req: AddBackgroundRequest{Foreground: fg}, wantCode: NoBackgroundSpecProvided, wantKind: KindCaller},
		{name: "neither background checked before decoding", req: AddBackgroundRequest{Foreground: junk}, wantCode: NoBackgroundSpecProvided, wantKind: KindCaller},
		{name: "both backgrounds", req: AddBackgroundRequest{Foreground: fg, BackgroundColor: "#fff", BackgroundImage: fg}, wantCode: ConflictingBackgroundSpec, wantKind: KindCaller},
		{name: "foreground too large", req: AddBackgroundRequest{Foreground: fg, BackgroundColor: "#fff"}, limits: Limits{MaxUploadBytes: 10}, wantCode: FileTooLarge, wantKind: KindCaller},
		{name: "foreground too many pixels", req: AddBackgroundRequest{Foreground: fg, BackgroundColor: "#fff"}, limits: Limits{MaxPixels: 15}, wantCode: ImageTooLarge, wantKind: KindCaller},
		{name: "undecodable foreground", req: AddBackgroundRequest{Foreground: junk, BackgroundColor: "#fff"}, wantCode: UndecodableImage, wantKind: KindProcessing},
		{name: "undecodable background", req: AddBackgroundRequest{Foreground: fg, BackgroundImage: junk}, wantCode: UndecodableImage, wantKind: KindProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(&MockRemover{}, tt.limits).AddBackground(context.Background(), tt.req)
			requireCode(t, err, tt.wantCode, tt.wantKind)
		})
	}
}

func TestLimits_CheckUpload(t *testing.T) {
	t.Parallel()

	l := Limits{}
	assert.NoError(t, l.CheckUpload(DefaultMaxUploadBytes))

	err := l.CheckUpload(DefaultMaxUploadBytes + 1)
	requireCode(t, err, FileTooLarge, KindCaller)
	assert.Equal(t, "File too large. Maximum size is 10MB", AsError(err).Message)

	requireCode(t, l.CheckUpload(0), NoImageProvided, KindCaller)
}

func TestAsError(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	pe := AsError(plain)
	assert.Equal(t, KindInternal, pe.Kind)
	assert.ErrorIs(t, pe, plain)

	wrapped := AsError(errors.Join(errors.New("ctx"), callerError(FileTooLarge, "too big", nil)))
	assert.Equal(t, FileTooLarge, wrapped.Code)
}
