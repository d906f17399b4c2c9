// Package cache derives memory-cache keys from image requests and keeps
// decoded images in a reference-counted LRU.
package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CacheKey identifies a cache entry. Two keys are equal when their String
// forms are equal.
type CacheKey interface {
	// String returns the canonical identity of the key.
	String() string

	// Hash returns a hash of the canonical identity.
	Hash() uint64

	// ContainsURI reports whether the key was derived from uri.
	ContainsURI(uri string) bool
}

// Equal reports whether a and b identify the same entry. Two nil keys are
// equal.
func Equal(a, b CacheKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// SimpleCacheKey is a key made of a single string.
type SimpleCacheKey struct {
	key  string
	hash uint64
}

// NewSimpleCacheKey returns a key for key.
func NewSimpleCacheKey(key string) SimpleCacheKey {
	return SimpleCacheKey{key: key, hash: xxhash.Sum64String(key)}
}

func (k SimpleCacheKey) String() string { return k.key }

// Hash implements CacheKey.
func (k SimpleCacheKey) Hash() uint64 { return k.hash }

// ContainsURI implements CacheKey.
func (k SimpleCacheKey) ContainsURI(uri string) bool {
	return strings.Contains(k.key, uri)
}

// BitmapMemoryCacheKey identifies a decoded bitmap. It covers every request
// field that changes the decoded pixels. The caller context is kept for
// diagnostics and never affects equality.
type BitmapMemoryCacheKey struct {
	SourceString          string
	ResizeOptions         *ResizeOptions
	AutoRotate            bool
	DecodeOptions         DecodeOptions
	PostprocessorCacheKey CacheKey
	PostprocessorName     string
	CallerContext         any

	identity string
	hash     uint64
}

// NewBitmapMemoryCacheKey builds a key and precomputes its identity.
func NewBitmapMemoryCacheKey(
	source string,
	resize *ResizeOptions,
	autoRotate bool,
	decode DecodeOptions,
	postprocessorKey CacheKey,
	postprocessorName string,
	callerContext any,
) *BitmapMemoryCacheKey {
	pp := "none"
	if postprocessorKey != nil {
		pp = postprocessorKey.String()
	}
	identity := fmt.Sprintf("bitmap|src=%q|resize=%s|rotate=%t|decode=%s|pp=%q|ppname=%q",
		source, resize, autoRotate, decode, pp, postprocessorName)
	return &BitmapMemoryCacheKey{
		SourceString:          source,
		ResizeOptions:         resize,
		AutoRotate:            autoRotate,
		DecodeOptions:         decode,
		PostprocessorCacheKey: postprocessorKey,
		PostprocessorName:     postprocessorName,
		CallerContext:         callerContext,
		identity:              identity,
		hash:                  xxhash.Sum64String(identity),
	}
}

func (k *BitmapMemoryCacheKey) String() string { return k.identity }

// Hash implements CacheKey.
func (k *BitmapMemoryCacheKey) Hash() uint64 { return k.hash }

// ContainsURI implements CacheKey.
func (k *BitmapMemoryCacheKey) ContainsURI(uri string) bool {
	return strings.Contains(k.SourceString, uri)
}
