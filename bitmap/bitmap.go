package bitmap

import (
	"fmt"
	"image"
	"sync"

	"imagepipeline/references"
)

// Bitmap is a mutable pixel buffer whose allocation can outlive its shape.
//
// The allocation is fixed at creation. Reconfigure reshapes the bitmap in
// place as long as the new shape fits, which is what lets a pool hand one
// allocation to requests of different dimensions.
//
// A read-only view shares pixels with its parent but can never be
// reconfigured or pooled. Disposing a bitmap drops its pixels; a disposed
// bitmap reports zero dimensions.
type Bitmap struct {
	mu       sync.RWMutex
	pix      []byte
	width    int
	height   int
	format   PixelFormat
	readOnly bool
	disposed bool
}

// New allocates a width x height bitmap in the given format.
func New(width, height int, format PixelFormat) (*Bitmap, error) {
	size, err := SizeInBytes(width, height, format)
	if err != nil {
		return nil, err
	}
	return &Bitmap{
		pix:    make([]byte, size),
		width:  width,
		height: height,
		format: format,
	}, nil
}

// Width returns the current width in pixels.
func (b *Bitmap) Width() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width
}

// Height returns the current height in pixels.
func (b *Bitmap) Height() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height
}

// Format returns the current pixel format.
func (b *Bitmap) Format() PixelFormat {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.format
}

// Pix returns the pixels of the current shape. The slice aliases the
// bitmap's memory.
func (b *Bitmap) Pix() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pix[:b.byteCountLocked()]
}

// ByteCount returns the number of bytes used by the current shape.
func (b *Bitmap) ByteCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byteCountLocked()
}

func (b *Bitmap) byteCountLocked() int {
	return b.width * b.height * b.format.BytesPerPixel()
}

// AllocationByteCount returns the size of the underlying allocation, which
// may exceed ByteCount after Reconfigure.
func (b *Bitmap) AllocationByteCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pix)
}

// Reconfigure changes the shape without reallocating.
func (b *Bitmap) Reconfigure(width, height int, format PixelFormat) error {
	size, err := SizeInBytes(width, height, format)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.disposed:
		return ErrDisposed
	case b.readOnly:
		return ErrReadOnly
	case size > len(b.pix):
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTooLarge, size, len(b.pix))
	}
	b.width, b.height, b.format = width, height, format
	return nil
}

// ReadOnlyView returns a bitmap sharing b's pixels that refuses mutation.
func (b *Bitmap) ReadOnlyView() *Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Bitmap{
		pix:      b.pix,
		width:    b.width,
		height:   b.height,
		format:   b.format,
		readOnly: true,
		disposed: b.disposed,
	}
}

// IsReadOnly reports whether b is a read-only view.
func (b *Bitmap) IsReadOnly() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readOnly
}

// Dispose drops the pixels. Calling it again has no effect.
func (b *Bitmap) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	b.pix = nil
	b.width, b.height = 0, 0
}

// IsDisposed reports whether Dispose has been called.
func (b *Bitmap) IsDisposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// RGBAImage returns an *image.RGBA that writes straight into b's memory.
// Only FormatRGBA8 bitmaps have such a view.
func (b *Bitmap) RGBAImage() (*image.RGBA, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return nil, ErrDisposed
	}
	if b.format != FormatRGBA8 {
		return nil, fmt.Errorf("%w: RGBA view of %s", ErrUnsupportedFormat, b.format)
	}
	return &image.RGBA{
		Pix:    b.pix[:b.byteCountLocked()],
		Stride: b.width * 4,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}, nil
}

// Image returns a standard library view of the pixels without copying.
// BGRA8 has no matching image type and is rejected.
func (b *Bitmap) Image() (image.Image, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return nil, ErrDisposed
	}
	rect := image.Rect(0, 0, b.width, b.height)
	pix := b.pix[:b.byteCountLocked()]
	switch b.format {
	case FormatRGBA8:
		return &image.RGBA{Pix: pix, Stride: b.width * 4, Rect: rect}, nil
	case FormatRGBA16:
		return &image.RGBA64{Pix: pix, Stride: b.width * 8, Rect: rect}, nil
	case FormatGray8:
		return &image.Gray{Pix: pix, Stride: b.width, Rect: rect}, nil
	case FormatGray16:
		return &image.Gray16{Pix: pix, Stride: b.width * 2, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("%w: image view of %s", ErrUnsupportedFormat, b.format)
	}
}

// DisposeReleaser returns a releaser that disposes bitmaps. It is the
// release path for bitmaps that do not come from a pool.
func DisposeReleaser() references.ResourceReleaser[*Bitmap] {
	return references.ReleaserFunc[*Bitmap](func(b *Bitmap) error {
		if b != nil {
			b.Dispose()
		}
		return nil
	})
}
