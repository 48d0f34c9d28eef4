package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// DefaultEncoder is the default implementation of the Encoder interface,
// backed by the imaging package for rasterization and JPEG/PNG output and by
// the webp package for WebP output.
type DefaultEncoder struct{}

// NewDefaultEncoder creates a new DefaultEncoder instance.
func NewDefaultEncoder() *DefaultEncoder {
	return &DefaultEncoder{}
}

// Decode parses raw image bytes. Standard formats are tried first, then WebP.
// JPEG images carrying an EXIF orientation tag are normalized so that the
// reported bounds match what the user sees.
func (e *DefaultEncoder) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		wimg, werr := webp.Decode(bytes.NewReader(data))
		if werr != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return wimg, nil
	}
	return applyOrientation(img, readOrientation(data)), nil
}

// Encode resizes src to the exact requested dimensions, flattens any
// transparency onto an opaque white background, and serializes the result.
func (e *DefaultEncoder) Encode(ctx context.Context, src image.Image, params EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("encode: nil source image")
	}

	w, h := params.Width, params.Height
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("encode: invalid dimensions %dx%d", w, h)
	}

	flat := rasterize(src, w, h)

	quality := params.Quality
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	var err error
	switch params.Format {
	case FormatJPEG:
		err = imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		// Lossless: quality is not passed through.
		err = imaging.Encode(&buf, flat, imaging.PNG)
	case FormatWebP:
		err = webp.Encode(&buf, flat, &webp.Options{Quality: float32(quality)})
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", params.Format, err)
	}
	if buf.Len() == 0 {
		return nil, ErrEncodeFailed
	}
	return buf.Bytes(), nil
}

// rasterize scales src to exactly w x h and composites it over opaque white,
// so lossy formats never encode stray alpha as black.
func rasterize(src image.Image, w, h int) *image.NRGBA {
	resized := imaging.Resize(src, w, h, imaging.Lanczos)
	background := imaging.New(w, h, color.White)
	return imaging.Overlay(background, resized, image.Pt(0, 0), 1.0)
}
