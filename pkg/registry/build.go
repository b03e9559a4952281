package registry

import (
	"context"
	"fmt"
	"reflect"
)

type buildConfig struct {
	prefix []string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithPrefix namespaces every key of the mirror, typically with the
// collection name.
func WithPrefix(segments ...string) BuildOption {
	return func(c *buildConfig) {
		c.prefix = append(c.prefix, segments...)
	}
}

// Mirror is the built form of a Tree: same shape, same names, with keys and
// invokers on every leaf. It is immutable and safe for concurrent use.
type Mirror struct {
	prefix CacheKey
	root   *Node
}

// Node is one position in a Mirror.
type Node struct {
	name     string
	path     []string
	base     CacheKey
	leaf     *leaf
	children []*Node
	index    map[string]*Node
}

// Build walks tree depth first and mirrors it. Empty or duplicate sibling
// names, nil entries, nil operations and empty groups are reported as a
// *ConstructionError.
func Build(tree Tree, opts ...BuildOption) (*Mirror, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	for _, segment := range cfg.prefix {
		if segment == "" {
			return nil, constructionError(nil, "empty prefix segment")
		}
	}
	prefix := CacheKey(append([]string(nil), cfg.prefix...))
	root, err := buildGroup(prefix, nil, "", tree)
	if err != nil {
		return nil, err
	}
	return &Mirror{prefix: prefix, root: root}, nil
}

// MustBuild is Build for package-level mirrors; it panics on error.
func MustBuild(tree Tree, opts ...BuildOption) *Mirror {
	m, err := Build(tree, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func buildGroup(prefix CacheKey, path []string, name string, entries Tree) (*Node, error) {
	if len(entries) == 0 {
		return nil, constructionError(path, "empty group")
	}
	node := &Node{
		name:  name,
		path:  path,
		base:  joinKey(prefix, path),
		index: make(map[string]*Node, len(entries)),
	}
	for i, entry := range entries {
		if entry == nil {
			return nil, constructionError(path, fmt.Sprintf("entry %d is nil", i))
		}
		childName := entry.entryName()
		childPath := append(append([]string(nil), path...), childName)
		if childName == "" {
			return nil, constructionError(childPath, fmt.Sprintf("entry %d has an empty name", i))
		}
		if _, dup := node.index[childName]; dup {
			return nil, constructionError(childPath, "duplicate sibling name")
		}
		var child *Node
		switch e := entry.(type) {
		case *leaf:
			if e.fn == nil {
				return nil, constructionError(childPath, "operation is nil")
			}
			child = &Node{name: childName, path: childPath, base: joinKey(prefix, childPath), leaf: e}
		case *group:
			built, err := buildGroup(prefix, childPath, childName, e.entries)
			if err != nil {
				return nil, err
			}
			child = built
		default:
			return nil, constructionError(childPath, fmt.Sprintf("unsupported entry %T", entry))
		}
		node.children = append(node.children, child)
		node.index[childName] = child
	}
	return node, nil
}

func joinKey(prefix CacheKey, path []string) CacheKey {
	out := make(CacheKey, 0, len(prefix)+len(path))
	out = append(out, prefix...)
	return append(out, path...)
}

// Prefix returns the key prefix.
func (m *Mirror) Prefix() CacheKey {
	return append(CacheKey(nil), m.prefix...)
}

// Root returns the unnamed root group.
func (m *Mirror) Root() *Node {
	return m.root
}

// Node follows path from the root. It returns nil when a segment is missing.
func (m *Mirror) Node(path ...string) *Node {
	n := m.root
	for _, name := range path {
		if n = n.Child(name); n == nil {
			return nil
		}
	}
	return n
}

// Leaves returns every leaf in depth-first definition order.
func (m *Mirror) Leaves() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(m.root)
	return out
}

// Name returns the node's name; the root's is empty.
func (n *Node) Name() string {
	return n.name
}

// Path returns the names from the root to n.
func (n *Node) Path() []string {
	return append([]string(nil), n.path...)
}

// IsLeaf reports whether n is an operation.
func (n *Node) IsLeaf() bool {
	return n.leaf != nil
}

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil || n.index == nil {
		return nil
	}
	return n.index[name]
}

// Names lists the children in definition order.
func (n *Node) Names() []string {
	out := make([]string, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.name)
	}
	return out
}

// Base returns prefix ++ path: the key shared by every call of a leaf, or by
// every leaf under a group.
func (n *Node) Base() CacheKey {
	return append(CacheKey(nil), n.base...)
}

// Key returns Base with the normalized input appended. A nil input, a nil
// pointer or NoInput adds no segment. It panics when input cannot be
// encoded as JSON; use EncodeKey for inputs from outside the process.
func (n *Node) Key(input any) CacheKey {
	key, err := n.EncodeKey(input)
	if err != nil {
		panic(err)
	}
	return key
}

// EncodeKey is Key returning ErrUnencodableInput instead of panicking.
func (n *Node) EncodeKey(input any) (CacheKey, error) {
	return appendKey(n.base, input)
}

// Invoke calls the operation with input. It fails on groups and on inputs of
// the wrong type.
func (n *Node) Invoke(ctx context.Context, input any) (any, error) {
	if n.leaf == nil {
		return nil, fmt.Errorf("registry: %s is a group, not an operation", n.base)
	}
	return n.leaf.call(ctx, input)
}

// InputType returns the operation's input type, or nil for groups.
func (n *Node) InputType() reflect.Type {
	if n.leaf == nil {
		return nil
	}
	return n.leaf.inType
}

// OutputType returns the operation's result type, or nil for groups.
func (n *Node) OutputType() reflect.Type {
	if n.leaf == nil {
		return nil
	}
	return n.leaf.outType
}
