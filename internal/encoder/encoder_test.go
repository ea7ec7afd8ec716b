package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncode_DecodedLengthMatchesSource(t *testing.T) {
	sizes := []int{0, 1, 2, 3, 1023, 500 * 1024}

	for _, n := range sizes {
		data := bytes.Repeat([]byte{0xFF, 0xD8, 0x42}, n/3+1)[:n]

		src, err := New().Encode(context.Background(), bytes.NewReader(data), "image/jpeg", "photo.jpg")
		require.NoError(t, err)

		mimeType, decoded, err := DecodeDataURI(src.DataURI)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", mimeType)
		assert.Len(t, decoded, n)
		assert.Equal(t, int64(n), src.Size)
		assert.Equal(t, data, decoded)
	}
}

func TestEncode_SniffsWhenDeclaredTypeIsGeneric(t *testing.T) {
	data := pngBytes(t, 3, 2)

	for _, declared := range []string{"", "application/octet-stream", "image/*", "not a type"} {
		src, err := New().Encode(context.Background(), bytes.NewReader(data), declared, "")
		require.NoError(t, err)
		assert.Equal(t, "image/png", src.MIMEType, "declared %q", declared)
		assert.True(t, strings.HasPrefix(src.DataURI, "data:image/png;base64,"))
		assert.Equal(t, 3, src.Width)
		assert.Equal(t, 2, src.Height)
	}
}

func TestEncode_DeclaredTypeParamsAreDropped(t *testing.T) {
	src, err := New().Encode(context.Background(), strings.NewReader("GIF89a"), "image/gif; name=x", "x.gif")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", src.MIMEType)
	assert.Equal(t, "x.gif", src.Filename)
}

func TestEncode_NoContentValidation(t *testing.T) {
	src, err := New().Encode(context.Background(), strings.NewReader("definitely not an image"), "image/png", "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", src.MIMEType)
	assert.Zero(t, src.Width)
	assert.Zero(t, src.Height)
}

func TestEncode_ReadFailure(t *testing.T) {
	_, err := New().Encode(context.Background(), iotest.ErrReader(assert.AnError), "image/png", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRead)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEncode_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Encode(ctx, strings.NewReader("abc"), "image/png", "")
	assert.ErrorIs(t, err, ErrRead)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeDataURI_Malformed(t *testing.T) {
	for _, uri := range []string{
		"",
		"https://service/result.png",
		"data:image/png;base64",
		"data:image/png,aGVsbG8=",
		"data:image/png;base64,***",
	} {
		_, _, err := DecodeDataURI(uri)
		assert.ErrorIs(t, err, ErrMalformedDataURI, "uri %q", uri)
	}
}
