// Package filetree defines the immutable repository snapshot model shared by
// the profiler, the overlay reconciler, and the sandbox mount path.
//
// A tree is a recursive structure of nodes where each node is exactly one of
// a file (with opaque text content) or a directory (with named children).
// Paths are case-sensitive, "/"-separated, and never contain symlinks.
package filetree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Node is a single entry in a file tree. A node is a file when Children is
// nil and a directory otherwise. File content is treated as opaque text;
// binary handling is a collaborator concern.
type Node struct {
	Content  string
	Children map[string]*Node
}

// File creates a file node with the given content.
func File(content string) *Node {
	return &Node{Content: content}
}

// Dir creates a directory node. A nil children map yields an empty directory.
func Dir(children map[string]*Node) *Node {
	if children == nil {
		children = make(map[string]*Node)
	}
	return &Node{Children: children}
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Children != nil
}

// Tree is an immutable snapshot of a repository's file tree. The root is
// always a directory. Callers must not mutate nodes after construction;
// operations that change a tree return a new one.
type Tree struct {
	Root *Node
}

// New creates a tree with an empty root directory.
func New() *Tree {
	return &Tree{Root: Dir(nil)}
}

// Lookup returns the node at the given "/"-separated path, or false if no
// such node exists. The empty path resolves to the root.
func (t *Tree) Lookup(path string) (*Node, bool) {
	if t == nil || t.Root == nil {
		return nil, false
	}
	if path == "" {
		return t.Root, true
	}
	cur := t.Root
	for _, seg := range strings.Split(path, "/") {
		if !cur.IsDir() {
			return nil, false
		}
		next, ok := cur.Children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// HasFile reports whether a file (not a directory) exists at path.
func (t *Tree) HasFile(path string) bool {
	n, ok := t.Lookup(path)
	return ok && !n.IsDir()
}

// FileContent returns the content of the file at path, or "" and false if
// the path does not resolve to a file.
func (t *Tree) FileContent(path string) (string, bool) {
	n, ok := t.Lookup(path)
	if !ok || n.IsDir() {
		return "", false
	}
	return n.Content, true
}

// Walk calls fn for every file in the tree in sorted path order. Directories
// are traversed but not reported.
func (t *Tree) Walk(fn func(path string, n *Node)) {
	if t == nil || t.Root == nil {
		return
	}
	walk("", t.Root, fn)
}

func walk(prefix string, n *Node, fn func(path string, n *Node)) {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.Children[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if child.IsDir() {
			walk(path, child, fn)
		} else {
			fn(path, child)
		}
	}
}

// FileCount returns the number of files in the tree.
func (t *Tree) FileCount() int {
	count := 0
	t.Walk(func(string, *Node) { count++ })
	return count
}

// WithFile returns a new tree with the file at path set to content,
// creating intermediate directories as needed. The receiver is not
// modified; unchanged subtrees are shared between old and new tree.
func (t *Tree) WithFile(path, content string) (*Tree, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	root, err := withFile(t.Root, segs, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Tree{Root: root}, nil
}

func withFile(n *Node, segs []string, content string) (*Node, error) {
	if !n.IsDir() {
		return nil, fmt.Errorf("not a directory")
	}
	children := make(map[string]*Node, len(n.Children)+1)
	for name, child := range n.Children {
		children[name] = child
	}
	name := segs[0]
	if len(segs) == 1 {
		if existing, ok := children[name]; ok && existing.IsDir() {
			return nil, fmt.Errorf("%s is a directory", name)
		}
		children[name] = File(content)
		return Dir(children), nil
	}
	child, ok := children[name]
	if !ok {
		child = Dir(nil)
	}
	newChild, err := withFile(child, segs[1:], content)
	if err != nil {
		return nil, err
	}
	children[name] = newChild
	return Dir(children), nil
}

// Equal reports whether two trees have identical structure and content.
func Equal(a, b *Tree) bool {
	if a == nil || b == nil {
		return a == b
	}
	return nodeEqual(a.Root, b.Root)
}

func nodeEqual(a, b *Node) bool {
	if a.IsDir() != b.IsDir() {
		return false
	}
	if !a.IsDir() {
		return a.Content == b.Content
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for name, ac := range a.Children {
		bc, ok := b.Children[name]
		if !ok || !nodeEqual(ac, bc) {
			return false
		}
	}
	return true
}

// Builder accumulates files into a tree. It is the mutable construction
// counterpart to the immutable Tree.
type Builder struct {
	root *Node
}

// NewBuilder creates an empty tree builder.
func NewBuilder() *Builder {
	return &Builder{root: Dir(nil)}
}

// Add inserts a file at the given path, creating intermediate directories.
// Adding a file where a directory already exists (or vice versa) is an error.
func (b *Builder) Add(path, content string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	cur := b.root
	for i, seg := range segs {
		if i == len(segs)-1 {
			if existing, ok := cur.Children[seg]; ok && existing.IsDir() {
				return fmt.Errorf("%s: already a directory", path)
			}
			cur.Children[seg] = File(content)
			return nil
		}
		next, ok := cur.Children[seg]
		if !ok {
			next = Dir(nil)
			cur.Children[seg] = next
		}
		if !next.IsDir() {
			return fmt.Errorf("%s: %s is a file", path, seg)
		}
		cur = next
	}
	return nil
}

// Build returns the accumulated tree. The builder must not be used after.
func (b *Builder) Build() *Tree {
	return &Tree{Root: b.root}
}

// FromDir loads a local directory into a tree. Version-control internals
// (.git) are skipped. Used by the CLI profile command.
func FromDir(dir string) (*Tree, error) {
	b := NewBuilder()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return b.Add(filepath.ToSlash(rel), string(data))
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	return b.Build(), nil
}

// splitPath validates and splits a "/"-separated relative path.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%s: absolute paths not allowed", path)
	}
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." {
			return nil, fmt.Errorf("%s: invalid path segment %q", path, seg)
		}
	}
	return segs, nil
}
