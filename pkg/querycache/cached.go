package querycache

import (
	"context"
	"time"

	"github.com/nimburion/docops/pkg/registry"
)

// Cached wraps a bound read operation so calls go through c under the
// operation's own cache key.
func Cached[In, Out any](c *Client, op *registry.Bound[In, Out], ttl time.Duration) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		key, err := op.EncodeKey(in)
		if err != nil {
			var zero Out
			return zero, err
		}
		return Fetch(ctx, c, key, ttl, func(ctx context.Context) (Out, error) {
			return op.Invoke(ctx, in)
		})
	}
}
