package producers

import (
	"fmt"

	"imagepipeline/bitmap"
	"imagepipeline/cache"
)

// GrayscalePostprocessor desaturates RGBA8 and BGRA8 bitmaps in place.
type GrayscalePostprocessor struct{}

var _ cache.Postprocessor = GrayscalePostprocessor{}

// Name implements cache.Postprocessor.
func (GrayscalePostprocessor) Name() string { return "grayscale" }

// CacheKey implements cache.Postprocessor.
func (GrayscalePostprocessor) CacheKey() cache.CacheKey {
	return cache.NewSimpleCacheKey("grayscale:v1")
}

// Process implements cache.Postprocessor.
func (GrayscalePostprocessor) Process(b *bitmap.Bitmap) error {
	var r, g, bl int
	switch b.Format() {
	case bitmap.FormatRGBA8:
		r, g, bl = 0, 1, 2
	case bitmap.FormatBGRA8:
		r, g, bl = 2, 1, 0
	default:
		return fmt.Errorf("grayscale: %w: %s", bitmap.ErrUnsupportedFormat, b.Format())
	}
	pix := b.Pix()
	for i := 0; i+3 < len(pix); i += 4 {
		// Rec. 601 luma
		y := uint8((299*uint32(pix[i+r]) + 587*uint32(pix[i+g]) + 114*uint32(pix[i+bl])) / 1000)
		pix[i], pix[i+1], pix[i+2] = y, y, y
	}
	return nil
}
