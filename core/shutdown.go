package core

import (
	"context"
)

// ShutdownFunc releases one resource during shutdown. It should honor the
// context deadline and be safe to call twice.
//
// Example:
//
//	var closePool ShutdownFunc = func(ctx context.Context) error {
//	    return pool.Close()
//	}
type ShutdownFunc func(ctx context.Context) error
