// Package store opens the configured document and query cache backends and
// owns their connections.
package store

import (
	"context"
	"errors"
)

// mongoAppName identifies docops connections in MongoDB server logs.
const mongoAppName = "docops"

// ErrUnsupported reports a backend type this build does not provide.
var ErrUnsupported = errors.New("unsupported backend")

// Adapter is a backend connection: health-checked while the runtime is up
// and closed when it stops.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}
