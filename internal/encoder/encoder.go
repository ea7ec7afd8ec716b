// Package encoder turns a user-selected image stream into a self-contained
// base64 data URI usable both as a preview source and as the payload sent to
// the background-removal service.
package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

const fallbackMIME = "application/octet-stream"

var (
	// ErrRead is returned when the source stream could not be read.
	ErrRead = errors.New("read source image")

	// ErrMalformedDataURI is returned by DecodeDataURI for anything that is not a base64 data URI.
	ErrMalformedDataURI = errors.New("malformed data URI")
)

// SourceImage is the user's original image, held as a data URI.
type SourceImage struct {
	DataURI  string `json:"data_uri"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Filename string `json:"filename,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Encoder reads image bytes into data URIs. It performs no content
// validation: whatever bytes are given are encoded.
type Encoder struct{}

func New() *Encoder {
	return &Encoder{}
}

// Encode reads r to EOF once and returns the encoded image. declaredType is
// the content type reported by the caller (e.g. the multipart part header);
// when it is missing or generic the type is sniffed from the bytes.
func (e *Encoder) Encode(ctx context.Context, r io.Reader, declaredType, filename string) (*SourceImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrRead)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	mimeType := resolveMIME(declaredType, data)
	src := &SourceImage{
		DataURI:  EncodeDataURI(mimeType, data),
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Filename: filename,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		src.Width, src.Height = cfg.Width, cfg.Height
	}
	return src, nil
}

// EncodeDataURI formats data as "data:<mime>;base64,<payload>".
func EncodeDataURI(mimeType string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DecodeDataURI is the inverse of EncodeDataURI.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURI
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrMalformedDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformedDataURI, err)
	}
	return mimeType, data, nil
}

func resolveMIME(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && isConcrete(mt) {
		return mt
	}
	if mt, _, err := mime.ParseMediaType(mimetype.Detect(data).String()); err == nil && isConcrete(mt) {
		return mt
	}
	return fallbackMIME
}

func isConcrete(mt string) bool {
	major, minor, ok := strings.Cut(mt, "/")
	if !ok || major == "" || minor == "" || major == "*" || minor == "*" {
		return false
	}
	return mt != fallbackMIME
}
