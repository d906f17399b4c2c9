package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"imagepipeline/cache"
	"imagepipeline/producers"
	"imagepipeline/shutdown"
)

// warmupConcurrency bounds parallel decodes during warmup.
const warmupConcurrency = 4

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// warmupResult counts the outcome of a warmup run.
type warmupResult struct {
	Decoded   int64
	Failed    int64
	Cancelled int64
}

// warmupFiles lists the images directly inside dir, sorted by name.
func warmupFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read warmup dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// warmup decodes every image in dir through producer so the memory cache
// and the pools start populated. Each decode is a tracked job, so shutdown
// waits for decodes in progress and rejects the rest.
func warmup(ctx context.Context, dir string, producer *producers.DecodeProducer, m *shutdown.Manager, logger *zap.Logger) (warmupResult, error) {
	var res warmupResult
	files, err := warmupFiles(dir)
	if err != nil {
		return res, err
	}
	logger.Info("warming up", zap.String("dir", dir), zap.Int("files", len(files)))

	var decoded, failed, cancelled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)
	for _, path := range files {
		path := path
		g.Go(func() error {
			err := m.Track(gctx, "warmup", func(ctx context.Context) error {
				return decodeOne(ctx, producer, path)
			})
			switch {
			case err == nil:
				decoded.Add(1)
			case ctx.Err() != nil || errors.Is(err, shutdown.ErrClosed):
				cancelled.Add(1)
			default:
				failed.Add(1)
				logger.Warn("warmup decode failed", zap.String("file", filepath.Base(path)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res = warmupResult{Decoded: decoded.Load(), Failed: failed.Load(), Cancelled: cancelled.Load()}
	logger.Info("warmup done",
		zap.Int64("decoded", res.Decoded),
		zap.Int64("failed", res.Failed),
		zap.Int64("cancelled", res.Cancelled))
	return res, nil
}

// decodeOne runs a single request and waits for its terminal callback.
func decodeOne(ctx context.Context, producer *producers.DecodeProducer, path string) error {
	req, err := cache.NewImageRequest(path)
	if err != nil {
		return err
	}
	var result error
	consumer := producers.NewBaseConsumer[producers.BitmapRef](producers.HandlerFuncs[producers.BitmapRef]{
		Failure: func(err error) error {
			result = err
			return nil
		},
		Cancellation: func() error {
			result = context.Canceled
			return nil
		},
	})
	producer.ProduceResults(consumer, producers.NewProducerContext(ctx, req, "warmup"))
	return result
}
