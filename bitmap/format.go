// Package bitmap holds the decoded-image buffer type that pools recycle.
package bitmap

import (
	"errors"
	"math"
)

// Common errors for bitmap operations.
var (
	// ErrUnsupportedFormat is returned for pixel formats without a known size.
	ErrUnsupportedFormat = errors.New("bitmap: unsupported pixel format")

	// ErrInvalidDimensions is returned when width or height is not positive.
	ErrInvalidDimensions = errors.New("bitmap: invalid dimensions")

	// ErrTooLarge is returned by Reconfigure when the new shape does not fit
	// in the existing allocation.
	ErrTooLarge = errors.New("bitmap: shape exceeds allocation")

	// ErrSizeOverflow is returned when width*height*bytesPerPixel does not
	// fit in an int.
	ErrSizeOverflow = errors.New("bitmap: byte size overflows int")

	// ErrDisposed is returned when a disposed bitmap is used.
	ErrDisposed = errors.New("bitmap: bitmap is disposed")

	// ErrReadOnly is returned when a read-only view is mutated.
	ErrReadOnly = errors.New("bitmap: bitmap is read-only")
)

// MaxDimension is the largest width or height the pipeline decodes into.
const MaxDimension = 2048

// PixelFormat is the in-memory layout of one pixel.
type PixelFormat uint8

const (
	// FormatRGBA8 is 8 bits per channel RGBA, 4 bytes per pixel.
	FormatRGBA8 PixelFormat = iota + 1

	// FormatBGRA8 is 8 bits per channel BGRA, 4 bytes per pixel.
	FormatBGRA8

	// FormatRGBA16 is 16 bits per channel RGBA, 8 bytes per pixel.
	FormatRGBA16

	// FormatGray8 is 8-bit grayscale.
	FormatGray8

	// FormatGray16 is 16-bit grayscale.
	FormatGray16
)

// BytesPerPixel returns the size of one pixel, or 0 for an unknown format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA16:
		return 8
	case FormatRGBA8, FormatBGRA8:
		return 4
	case FormatGray16:
		return 2
	case FormatGray8:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether f is a known format.
func (f PixelFormat) IsValid() bool {
	return f.BytesPerPixel() > 0
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBA16:
		return "RGBA16"
	case FormatGray8:
		return "Gray8"
	case FormatGray16:
		return "Gray16"
	default:
		return "unknown"
	}
}

// SizeInBytes returns width*height*bytesPerPixel.
func SizeInBytes(width, height int, f PixelFormat) (int, error) {
	bpp := f.BytesPerPixel()
	if bpp == 0 {
		return 0, ErrUnsupportedFormat
	}
	if width <= 0 || height <= 0 {
		return 0, ErrInvalidDimensions
	}
	if width > math.MaxInt/bpp/height {
		return 0, ErrSizeOverflow
	}
	return width * height * bpp, nil
}
