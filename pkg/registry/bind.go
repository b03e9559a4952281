package registry

import (
	"context"
	"fmt"
)

// Bound is the typed view of one leaf: the operation and its key function.
// Invoke is the very function the leaf was declared with.
type Bound[In, Out any] struct {
	Invoke func(ctx context.Context, in In) (Out, error)
	node   *Node
}

// Key returns the cache key for a call with in.
func (b *Bound[In, Out]) Key(in In) CacheKey {
	return b.node.Key(in)
}

// EncodeKey is Key returning ErrUnencodableInput instead of panicking.
func (b *Bound[In, Out]) EncodeKey(in In) (CacheKey, error) {
	return b.node.EncodeKey(in)
}

// Base returns the key shared by every call of the leaf.
func (b *Bound[In, Out]) Base() CacheKey {
	return b.node.Base()
}

// Node returns the mirror node b is bound to.
func (b *Bound[In, Out]) Node() *Node {
	return b.node
}

// Bind resolves path in m to a leaf whose signature is exactly
// func(context.Context, In) (Out, error).
func Bind[In, Out any](m *Mirror, path ...string) (*Bound[In, Out], error) {
	n := m.Node(path...)
	if n == nil {
		return nil, constructionError(path, "no such node")
	}
	if !n.IsLeaf() {
		return nil, constructionError(path, "node is a group")
	}
	fn, ok := n.leaf.fn.(func(context.Context, In) (Out, error))
	if !ok {
		var in In
		var out Out
		return nil, constructionError(path, fmt.Sprintf("operation is %T, not func(context.Context, %T) (%T, error)", n.leaf.fn, in, out))
	}
	return &Bound[In, Out]{Invoke: fn, node: n}, nil
}

// MustBind is Bind for package-level bindings; it panics on error.
func MustBind[In, Out any](m *Mirror, path ...string) *Bound[In, Out] {
	b, err := Bind[In, Out](m, path...)
	if err != nil {
		panic(err)
	}
	return b
}
