package encoder

import (
	"context"
	"errors"
	"image"
	"strings"
)

// Format identifies a supported output encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

var (
	// ErrUnsupportedFormat is returned when a format name is not one of the
	// supported encodings.
	ErrUnsupportedFormat = errors.New("unsupported output format")

	// ErrEncodeFailed is returned when the encoder produced no usable output.
	ErrEncodeFailed = errors.New("encode produced no data")
)

// ParseFormat resolves a user-supplied format name. "jpg" is accepted as an
// alias for "jpeg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Formats returns the supported output formats.
func Formats() []Format {
	return []Format{FormatJPEG, FormatPNG, FormatWebP}
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ""
	}
}

// MediaType returns the MIME type for the format.
func (f Format) MediaType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Lossless reports whether the format ignores the quality setting.
func (f Format) Lossless() bool {
	return f == FormatPNG
}

// EncodeParams defines a single encode request: the exact output pixel
// dimensions, the output format, and the quality (1-100). Quality is ignored
// for lossless formats.
type EncodeParams struct {
	Width   int
	Height  int
	Format  Format
	Quality int
}

// Encoder turns decoded pixel data into a compressed byte stream. It is the
// boundary behind which all rasterization and codec work happens.
type Encoder interface {
	// Decode parses raw image bytes into pixel data, applying EXIF
	// orientation so width/height match the visual orientation.
	Decode(data []byte) (image.Image, error)

	// Encode draws src into an opaque buffer of the requested dimensions and
	// serializes it in the requested format. Returns ErrEncodeFailed if no
	// output could be produced.
	Encode(ctx context.Context, src image.Image, params EncodeParams) ([]byte, error)
}
