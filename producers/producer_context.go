package producers

import (
	"context"

	"github.com/google/uuid"

	"imagepipeline/cache"
)

// Producer delivers results for a request to a consumer. ProduceResults
// makes exactly one terminal call on the consumer.
type Producer[T any] interface {
	ProduceResults(consumer Consumer[T], pc *ProducerContext)
}

// ProducerContext carries one request through a chain of producers.
type ProducerContext struct {
	ctx           context.Context
	id            string
	request       *cache.ImageRequest
	callerContext any
}

// NewProducerContext binds req to ctx. callerContext is passed into cache
// keys for diagnostics.
func NewProducerContext(ctx context.Context, req *cache.ImageRequest, callerContext any) *ProducerContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ProducerContext{
		ctx:           ctx,
		id:            uuid.NewString(),
		request:       req,
		callerContext: callerContext,
	}
}

// Context returns the context that cancels the request.
func (pc *ProducerContext) Context() context.Context { return pc.ctx }

// ID returns a unique id for this run of the request.
func (pc *ProducerContext) ID() string { return pc.id }

// ImageRequest returns the request.
func (pc *ProducerContext) ImageRequest() *cache.ImageRequest { return pc.request }

// CallerContext returns the caller context.
func (pc *ProducerContext) CallerContext() any { return pc.callerContext }

// IsCancelled reports whether the context is done.
func (pc *ProducerContext) IsCancelled() bool {
	return pc.ctx.Err() != nil
}
