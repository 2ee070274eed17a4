// Package imagecodec converts base64 image payloads into packed RGB pixel
// buffers. Decoding is a pure transformation: no logging, no side effects.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// DecodeError reports a payload that could not be turned into pixels. The
// message always carries the underlying cause so callers can surface it.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Invalid image format: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// PixelBuffer is a width x height x 3 array of 8-bit samples in RGB order.
// Pix holds rows top to bottom with no padding.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// RGBA re-expands the buffer into a stdlib image with opaque alpha. Used by
// locator adapters that need to re-encode before inference.
func (p *PixelBuffer) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i := 0; i < p.Width*p.Height; i++ {
		img.Pix[i*4+0] = p.Pix[i*3+0]
		img.Pix[i*4+1] = p.Pix[i*3+1]
		img.Pix[i*4+2] = p.Pix[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// Decode turns a base64 payload, optionally prefixed with a data-URL header,
// into an RGB pixel buffer. Any header segments are stripped up to the last
// comma; the remainder is decoded as standard base64 and then as one of the
// registered image formats (JPEG, PNG, BMP). Grayscale, paletted, and RGBA
// sources are all normalized to three channels.
func Decode(payload string) (*PixelBuffer, error) {
	if idx := strings.LastIndex(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, &DecodeError{Cause: err}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Cause: err}
	}

	return normalize(img), nil
}

// normalize flattens any color model into packed RGB, dropping alpha.
func normalize(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// NRGBA keeps straight (non-premultiplied) samples, so dropping alpha
	// leaves the original color channels intact.
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)

	buf := &PixelBuffer{
		Width:  w,
		Height: h,
		Pix:    make([]uint8, w*h*3),
	}
	for i := 0; i < w*h; i++ {
		buf.Pix[i*3+0] = nrgba.Pix[i*4+0]
		buf.Pix[i*3+1] = nrgba.Pix[i*4+1]
		buf.Pix[i*3+2] = nrgba.Pix[i*4+2]
	}
	return buf
}
