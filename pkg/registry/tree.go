// Package registry turns a nested tree of named operations into a mirror in
// which every leaf exposes a deterministic cache key and the operation itself,
// both derived from the same definition so invalidation and invocation cannot
// drift apart.
//
//	tree := registry.Tree{
//		registry.Op("list", listMembers),
//		registry.Group("admin", registry.Op("list", listAll)),
//	}
//	mirror := registry.MustBuild(tree, registry.WithPrefix("members"))
//	list := registry.MustBind[query.Variables, []Member](mirror, "list")
//	key := list.Key(vars)      // ["members","list","{...}"]
//	out, err := list.Invoke(ctx, vars)
package registry

import (
	"context"
	"fmt"
	"reflect"
)

// Entry is one named element of a Tree: an operation leaf or a group.
type Entry interface {
	entryName() string
}

// Tree is an ordered list of sibling entries.
type Tree []Entry

type leaf struct {
	name    string
	fn      any
	inType  reflect.Type
	outType reflect.Type
	call    func(ctx context.Context, in any) (any, error)
}

func (l *leaf) entryName() string { return l.name }

type group struct {
	name    string
	entries Tree
}

func (g *group) entryName() string { return g.name }

// Op declares an operation leaf.
func Op[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) Entry {
	l := &leaf{
		name:    name,
		inType:  reflect.TypeOf((*In)(nil)).Elem(),
		outType: reflect.TypeOf((*Out)(nil)).Elem(),
	}
	if fn == nil {
		return l
	}
	l.fn = fn
	l.call = func(ctx context.Context, in any) (any, error) {
		typed, ok := in.(In)
		if !ok {
			if in != nil {
				return nil, fmt.Errorf("operation %s: input is %T, want %s", name, in, l.inType)
			}
			var zero In
			typed = zero
		}
		return fn(ctx, typed)
	}
	return l
}

// Group declares a named subtree.
func Group(name string, entries ...Entry) Entry {
	return &group{name: name, entries: entries}
}
