package producers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
)

// ErrUnsupportedScheme is returned by fetchers for URIs they cannot open.
var ErrUnsupportedScheme = errors.New("producers: unsupported URI scheme")

// EncodedFetcher opens the encoded bytes of an image. size is the length
// of the content, or -1 when unknown.
type EncodedFetcher interface {
	Fetch(ctx context.Context, uri string) (rc io.ReadCloser, size int64, err error)
}

// FileFetcher reads file:// URIs and bare paths from the local disk.
type FileFetcher struct{}

// Fetch implements EncodedFetcher.
func (FileFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path, err := localPath(uri)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}

func localPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", uri, err)
	}
	switch u.Scheme {
	case "":
		return uri, nil
	case "file":
		return u.Path, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}
