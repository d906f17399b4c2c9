package producers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"

	"imagepipeline/bitmap"
	"imagepipeline/cache"
	"imagepipeline/core"
	"imagepipeline/logging"
	"imagepipeline/memory"
	"imagepipeline/references"
)

// ErrDecodeFailed wraps errors from image decoding.
var ErrDecodeFailed = errors.New("producers: decode failed")

// DefaultMaxSourcePixels bounds the declared size of an encoded image
// (8192 x 8192).
const DefaultMaxSourcePixels = 64 << 20

// BitmapRef is the result type of bitmap producers.
type BitmapRef = *references.CloseableReference[*bitmap.Bitmap]

// Progress reported at each decode stage.
const (
	progressFetched  float32 = 0.25
	progressDecoded  float32 = 0.5
	progressRendered float32 = 0.9
)

// DecodeProducer fetches encoded bytes, decodes them and renders the image
// into a bitmap taken from a BitmapPool.
//
// The result handed to the consumer is a reference whose releaser returns
// the bitmap to the pool. The producer closes its own reference once
// OnNewResult returns, so consumers that keep the bitmap must Clone it.
// When a memory cache is configured, cached bitmaps are served without
// decoding and fresh ones are added to the cache.
type DecodeProducer struct {
	fetcher     EncodedFetcher
	bitmapPool  *memory.BitmapPool
	bytePool    *memory.ByteArrayPool
	memoryCache *cache.CountingMemoryCache[*bitmap.Bitmap]
	keys        cache.CacheKeyFactory
	scaler      draw.Scaler
	maxPixels   int
	logger      *zap.Logger
	errorLogger core.ErrorLogger
}

var _ Producer[BitmapRef] = (*DecodeProducer)(nil)

// DecodeOption configures a DecodeProducer.
type DecodeOption func(*DecodeProducer)

// WithFetcher sets the source of encoded bytes. The default is FileFetcher.
func WithFetcher(f EncodedFetcher) DecodeOption {
	return func(p *DecodeProducer) { p.fetcher = f }
}

// WithByteArrayPool stages encoded bytes in pooled buffers.
func WithByteArrayPool(pool *memory.ByteArrayPool) DecodeOption {
	return func(p *DecodeProducer) { p.bytePool = pool }
}

// WithMemoryCache serves and stores decoded bitmaps through c.
func WithMemoryCache(c *cache.CountingMemoryCache[*bitmap.Bitmap]) DecodeOption {
	return func(p *DecodeProducer) { p.memoryCache = c }
}

// WithCacheKeyFactory sets the key factory used with the memory cache.
func WithCacheKeyFactory(f cache.CacheKeyFactory) DecodeOption {
	return func(p *DecodeProducer) { p.keys = f }
}

// WithScaler sets the resampling kernel. The default is draw.CatmullRom.
func WithScaler(s draw.Scaler) DecodeOption {
	return func(p *DecodeProducer) { p.scaler = s }
}

// WithMaxSourcePixels rejects sources whose header declares more than n
// pixels. Values <= 0 keep DefaultMaxSourcePixels.
func WithMaxSourcePixels(n int) DecodeOption {
	return func(p *DecodeProducer) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// WithDecodeLogger sets the zap logger.
func WithDecodeLogger(l *zap.Logger) DecodeOption {
	return func(p *DecodeProducer) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDecodeErrorLogger sets where release failures of results are reported.
func WithDecodeErrorLogger(l core.ErrorLogger) DecodeOption {
	return func(p *DecodeProducer) { p.errorLogger = core.OrNoOp(l) }
}

// NewDecodeProducer creates a producer drawing bitmaps from pool.
func NewDecodeProducer(pool *memory.BitmapPool, opts ...DecodeOption) (*DecodeProducer, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil bitmap pool", memory.ErrInvalidParams)
	}
	p := &DecodeProducer{
		fetcher:     FileFetcher{},
		bitmapPool:  pool,
		keys:        cache.NewDefaultCacheKeyFactory(),
		scaler:      draw.CatmullRom,
		maxPixels:   DefaultMaxSourcePixels,
		logger:      zap.NewNop(),
		errorLogger: core.NoOpErrorLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("decode")
	return p, nil
}

// ProduceResults runs the request to completion on the calling goroutine.
func (p *DecodeProducer) ProduceResults(consumer Consumer[BitmapRef], pc *ProducerContext) {
	req := pc.ImageRequest()
	log := p.logger.With(
		zap.String("request_id", pc.ID()),
		zap.String("uri", logging.RedactURL(req.SourceURI())))

	var key cache.CacheKey
	if p.memoryCache != nil {
		key = p.keys.BitmapCacheKey(req, pc.CallerContext())
		if hit := p.memoryCache.Get(key); hit != nil {
			log.Debug("memory cache hit")
			consumer.OnNewResult(hit, true)
			_ = hit.Close()
			return
		}
	}

	ref, err := p.decode(pc, consumer)
	switch {
	case err != nil && pc.IsCancelled():
		log.Debug("decode cancelled")
		consumer.OnCancellation()
		return
	case err != nil:
		log.Warn("decode failed", zap.Error(err))
		consumer.OnFailure(err)
		return
	}

	if key != nil && cacheable(req) {
		if cached := p.memoryCache.Cache(key, ref); cached != nil {
			_ = ref.Close()
			ref = cached
		}
	}

	b := ref.Get()
	log.Debug("decoded",
		zap.Int("width", b.Width()),
		zap.Int("height", b.Height()),
		zap.Stringer("format", b.Format()))
	consumer.OnProgressUpdate(1)
	consumer.OnNewResult(ref, true)
	_ = ref.Close()
}

func cacheable(req *cache.ImageRequest) bool {
	pp := req.Postprocessor()
	return pp == nil || pp.CacheKey() != nil
}

func (p *DecodeProducer) decode(pc *ProducerContext, consumer Consumer[BitmapRef]) (BitmapRef, error) {
	ctx := pc.Context()
	req := pc.ImageRequest()

	src, err := p.fetchAndDecode(pc, consumer)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consumer.OnProgressUpdate(progressDecoded)

	format := req.DecodeOptions().EffectivePixelFormat()
	w, h := targetSize(src.Bounds(), req.ResizeOptions())
	b, err := memory.GetBitmap(p.bitmapPool, w, h, renderFormat(format))
	if err != nil {
		return nil, fmt.Errorf("get bitmap %dx%d: %w", w, h, err)
	}
	ref, err := references.Of[*bitmap.Bitmap](b, p.bitmapPool, references.WithErrorLogger(p.errorLogger))
	if err != nil {
		_ = p.bitmapPool.Release(b)
		return nil, err
	}

	if err := p.render(b, src, format); err != nil {
		_ = ref.Close()
		return nil, err
	}
	consumer.OnProgressUpdate(progressRendered)

	if pp := req.Postprocessor(); pp != nil {
		if err := pp.Process(b); err != nil {
			_ = ref.Close()
			return nil, fmt.Errorf("postprocessor %s: %w", pp.Name(), err)
		}
	}

	if err := ctx.Err(); err != nil {
		_ = ref.Close()
		return nil, err
	}
	return ref, nil
}

// fetchAndDecode reads the encoded bytes and decodes them.
func (p *DecodeProducer) fetchAndDecode(pc *ProducerContext, consumer Consumer[BitmapRef]) (image.Image, error) {
	ctx := pc.Context()
	rc, size, err := p.fetcher.Fetch(ctx, pc.ImageRequest().SourceURI())
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer rc.Close()

	data, release, err := p.readAll(rc, size)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consumer.OnProgressUpdate(progressFetched)

	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if err := p.checkSourceSize(imgCfg.Width, imgCfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return img, nil
}

// checkSourceSize rejects declared dimensions above the pixel budget.
func (p *DecodeProducer) checkSourceSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid source size %dx%d", ErrDecodeFailed, width, height)
	}
	if width > p.maxPixels/height {
		return fmt.Errorf("%w: source %dx%d exceeds %d pixels", ErrDecodeFailed, width, height, p.maxPixels)
	}
	return nil
}

// readAll reads rc into a pooled buffer when its size is known and a byte
// pool is configured, and into a fresh slice otherwise. release must be
// called once data is no longer needed.
func (p *DecodeProducer) readAll(rc io.Reader, size int64) (data []byte, release func(), err error) {
	noop := func() {}
	if p.bytePool == nil || size <= 0 {
		data, err = io.ReadAll(rc)
		return data, noop, err
	}

	buf, err := p.bytePool.Get(int(size))
	if err != nil {
		p.logger.Debug("byte pool unavailable, reading unpooled", zap.Error(err))
		data, err = io.ReadAll(rc)
		return data, noop, err
	}
	release = func() { _ = p.bytePool.Release(buf) }

	n, err := io.ReadFull(rc, buf.Buf[:size])
	if err != nil {
		release()
		return nil, noop, err
	}
	buf.Len = n
	return buf.Bytes(), release, nil
}

// render scales src into b. BGRA8 is rendered as RGBA8 and swizzled.
func (p *DecodeProducer) render(b *bitmap.Bitmap, src image.Image, format bitmap.PixelFormat) error {
	img, err := b.Image()
	if err != nil {
		return err
	}
	dst, ok := img.(draw.Image)
	if !ok {
		return fmt.Errorf("%w: %s is not drawable", bitmap.ErrUnsupportedFormat, b.Format())
	}
	if dst.Bounds().Size() == src.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	} else {
		p.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	if format == bitmap.FormatBGRA8 {
		swapRedBlue(b.Pix())
		w, h := b.Width(), b.Height()
		return b.Reconfigure(w, h, bitmap.FormatBGRA8)
	}
	return nil
}

func renderFormat(f bitmap.PixelFormat) bitmap.PixelFormat {
	if f == bitmap.FormatBGRA8 {
		return bitmap.FormatRGBA8
	}
	return f
}

func swapRedBlue(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}

// targetSize fits the source into the resize box, keeping the aspect ratio,
// and never exceeds bitmap.MaxDimension.
func targetSize(bounds image.Rectangle, resize *cache.ResizeOptions) (int, int) {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	maxW, maxH := bitmap.MaxDimension, bitmap.MaxDimension
	if resize != nil {
		maxW, maxH = resize.Width, resize.Height
	}
	if w <= maxW && h <= maxH && resize == nil {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if resize == nil {
		scale = min(scale, 1)
	}
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}
