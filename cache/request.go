package cache

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"imagepipeline/bitmap"
)

// ErrInvalidRequest is returned for requests that cannot be built.
var ErrInvalidRequest = errors.New("cache: invalid image request")

// ResizeOptions is the target size of a decoded image.
type ResizeOptions struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (r *ResizeOptions) String() string {
	if r == nil {
		return "none"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DecodeOptions controls how encoded bytes are decoded.
type DecodeOptions struct {
	// PixelFormat of the decoded bitmap. Zero means RGBA8.
	PixelFormat bitmap.PixelFormat `json:"pixel_format"`

	// ForceStaticImage decodes only the first frame of animated images.
	ForceStaticImage bool `json:"force_static_image"`

	// DecodeAllFrames decodes every frame of animated images up front.
	DecodeAllFrames bool `json:"decode_all_frames"`

	// UseLastFrameForPreview shows the last frame instead of the first
	// while an animation loads.
	UseLastFrameForPreview bool `json:"use_last_frame_for_preview"`
}

// EffectivePixelFormat returns PixelFormat, defaulting to RGBA8.
func (d DecodeOptions) EffectivePixelFormat() bitmap.PixelFormat {
	if d.PixelFormat == 0 {
		return bitmap.FormatRGBA8
	}
	return d.PixelFormat
}

func (d DecodeOptions) String() string {
	return fmt.Sprintf("format=%s,static=%t,all=%t,last=%t",
		d.EffectivePixelFormat(), d.ForceStaticImage, d.DecodeAllFrames, d.UseLastFrameForPreview)
}

// Postprocessor transforms a decoded bitmap in place.
type Postprocessor interface {
	// Name is a stable identity for the kind of postprocessing, used in
	// cache keys.
	Name() string

	// CacheKey identifies this postprocessor's configuration, or returns
	// nil when its output must not be cached.
	CacheKey() CacheKey

	// Process modifies b.
	Process(b *bitmap.Bitmap) error
}

// ImageRequest describes one image load. It is immutable once built.
type ImageRequest struct {
	id            string
	sourceURI     string
	resize        *ResizeOptions
	autoRotate    bool
	decode        DecodeOptions
	postprocessor Postprocessor
}

// RequestOption configures an ImageRequest.
type RequestOption func(*ImageRequest)

// WithResize sets the target size.
func WithResize(width, height int) RequestOption {
	return func(r *ImageRequest) {
		r.resize = &ResizeOptions{Width: width, Height: height}
	}
}

// WithAutoRotate enables orientation correction.
func WithAutoRotate(enabled bool) RequestOption {
	return func(r *ImageRequest) {
		r.autoRotate = enabled
	}
}

// WithDecodeOptions sets decode options.
func WithDecodeOptions(d DecodeOptions) RequestOption {
	return func(r *ImageRequest) {
		r.decode = d
	}
}

// WithPostprocessor sets the postprocessor.
func WithPostprocessor(p Postprocessor) RequestOption {
	return func(r *ImageRequest) {
		r.postprocessor = p
	}
}

// NewImageRequest builds a request for sourceURI.
//
// Example:
//
//	req, err := NewImageRequest("file:///photos/cat.png",
//	    WithResize(256, 256),
//	    WithAutoRotate(true))
func NewImageRequest(sourceURI string, opts ...RequestOption) (*ImageRequest, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("%w: empty source URI", ErrInvalidRequest)
	}
	if _, err := url.Parse(sourceURI); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r := &ImageRequest{
		id:        uuid.NewString(),
		sourceURI: sourceURI,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resize != nil && (r.resize.Width <= 0 || r.resize.Height <= 0 ||
		r.resize.Width > bitmap.MaxDimension || r.resize.Height > bitmap.MaxDimension) {
		return nil, fmt.Errorf("%w: resize %s outside 1..%d", ErrInvalidRequest, r.resize, bitmap.MaxDimension)
	}
	if !r.decode.EffectivePixelFormat().IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, bitmap.ErrUnsupportedFormat)
	}
	return r, nil
}

// ID returns the request's unique id.
func (r *ImageRequest) ID() string { return r.id }

// SourceURI returns the image source.
func (r *ImageRequest) SourceURI() string { return r.sourceURI }

// ResizeOptions returns a copy of the resize options, or nil.
func (r *ImageRequest) ResizeOptions() *ResizeOptions {
	if r.resize == nil {
		return nil
	}
	c := *r.resize
	return &c
}

// AutoRotate reports whether orientation correction is enabled.
func (r *ImageRequest) AutoRotate() bool { return r.autoRotate }

// DecodeOptions returns the decode options.
func (r *ImageRequest) DecodeOptions() DecodeOptions { return r.decode }

// Postprocessor returns the postprocessor, or nil.
func (r *ImageRequest) Postprocessor() Postprocessor { return r.postprocessor }
