package cache

// CacheKeyFactory derives cache keys from requests. callerContext is
// carried into keys for diagnostics only.
type CacheKeyFactory interface {
	// BitmapCacheKey identifies the final bitmap, postprocessing included.
	BitmapCacheKey(req *ImageRequest, callerContext any) CacheKey

	// DecodedBitmapCacheKey identifies the bitmap before postprocessing.
	DecodedBitmapCacheKey(req *ImageRequest, callerContext any) CacheKey

	// EncodedCacheKey identifies the encoded bytes, which depend on the
	// source alone.
	EncodedCacheKey(req *ImageRequest, callerContext any) CacheKey
}

// DefaultCacheKeyFactory is the standard CacheKeyFactory. The zero value
// is ready to use.
type DefaultCacheKeyFactory struct {
	normalize func(string) string
}

var _ CacheKeyFactory = DefaultCacheKeyFactory{}

// FactoryOption configures a DefaultCacheKeyFactory.
type FactoryOption func(*DefaultCacheKeyFactory)

// WithSourceNormalizer maps source URIs before they enter keys, for
// example to drop volatile query parameters.
func WithSourceNormalizer(fn func(string) string) FactoryOption {
	return func(f *DefaultCacheKeyFactory) {
		f.normalize = fn
	}
}

// NewDefaultCacheKeyFactory returns a factory value.
func NewDefaultCacheKeyFactory(opts ...FactoryOption) DefaultCacheKeyFactory {
	var f DefaultCacheKeyFactory
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func (f DefaultCacheKeyFactory) source(req *ImageRequest) string {
	if f.normalize != nil {
		return f.normalize(req.SourceURI())
	}
	return req.SourceURI()
}

// BitmapCacheKey implements CacheKeyFactory.
func (f DefaultCacheKeyFactory) BitmapCacheKey(req *ImageRequest, callerContext any) CacheKey {
	var ppKey CacheKey
	var ppName string
	if pp := req.Postprocessor(); pp != nil {
		ppKey = pp.CacheKey()
		ppName = pp.Name()
	}
	return NewBitmapMemoryCacheKey(
		f.source(req),
		req.ResizeOptions(),
		req.AutoRotate(),
		req.DecodeOptions(),
		ppKey,
		ppName,
		callerContext,
	)
}

// DecodedBitmapCacheKey implements CacheKeyFactory.
func (f DefaultCacheKeyFactory) DecodedBitmapCacheKey(req *ImageRequest, callerContext any) CacheKey {
	return NewBitmapMemoryCacheKey(
		f.source(req),
		req.ResizeOptions(),
		req.AutoRotate(),
		req.DecodeOptions(),
		nil,
		"",
		callerContext,
	)
}

// EncodedCacheKey implements CacheKeyFactory.
func (f DefaultCacheKeyFactory) EncodedCacheKey(req *ImageRequest, _ any) CacheKey {
	return NewSimpleCacheKey(f.source(req))
}
