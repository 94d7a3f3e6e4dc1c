// Package overlay merges a freshly fetched repository snapshot with the
// session's uncommitted edits. The reconciler prunes every path owned by a
// pending edit out of the baseline tree; the caller then writes the edited
// content over the pruned tree so local changes always win over the fetch.
package overlay

import (
	"strings"

	"github.com/previewlabs/previewd/pkg/filetree"
)

// PendingEdit is a session-local, not-yet-committed file change. The edit
// log is owned by an external collaborator; the orchestrator only reads it.
type PendingEdit struct {
	Path     string
	Content  string
	Reverted bool
}

// EditSource provides the ordered pending edits for a viewing session.
type EditSource interface {
	PendingEdits(viewID string) ([]PendingEdit, error)
}

// ExcludeSet collects the paths of all non-reverted edits.
func ExcludeSet(edits []PendingEdit) map[string]struct{} {
	set := make(map[string]struct{})
	for _, e := range edits {
		if !e.Reverted {
			set[e.Path] = struct{}{}
		}
	}
	return set
}

// Reconcile returns a new tree with every path in the exclusion set removed.
// The input tree is never mutated; untouched subtrees are shared.
//
// A directory survives pruning if it still has children afterwards, or if
// the exclusion set never reached into it at all. The second clause matters:
// a directory whose known children were all excluded is dropped, but one the
// set never targeted keeps its children even if they were never offered for
// exclusion.
func Reconcile(t *filetree.Tree, exclude map[string]struct{}) *filetree.Tree {
	if t == nil || t.Root == nil {
		return t
	}
	if len(exclude) == 0 {
		return t
	}
	return &filetree.Tree{Root: pruneDir(t.Root, exclude)}
}

// pruneDir applies the exclusion set to one directory level. The set is
// re-scoped for each subdirectory by stripping the directory-name prefix.
func pruneDir(dir *filetree.Node, exclude map[string]struct{}) *filetree.Node {
	children := make(map[string]*filetree.Node, len(dir.Children))
	for name, child := range dir.Children {
		if !child.IsDir() {
			if _, drop := exclude[name]; drop {
				continue
			}
			children[name] = child
			continue
		}
		sub := rescope(exclude, name)
		if len(sub) == 0 {
			// Nothing in the set reached into this subtree; keep it whole.
			children[name] = child
			continue
		}
		pruned := pruneDir(child, sub)
		if len(pruned.Children) > 0 {
			children[name] = pruned
		}
	}
	return filetree.Dir(children)
}

// rescope returns the subset of exclusion paths under dirName with the
// prefix stripped.
func rescope(exclude map[string]struct{}, dirName string) map[string]struct{} {
	prefix := dirName + "/"
	var sub map[string]struct{}
	for path := range exclude {
		if strings.HasPrefix(path, prefix) {
			if sub == nil {
				sub = make(map[string]struct{})
			}
			sub[strings.TrimPrefix(path, prefix)] = struct{}{}
		}
	}
	return sub
}

// Apply lays the non-reverted edits over an already-pruned tree, producing
// the tree that is actually mounted into the sandbox.
func Apply(t *filetree.Tree, edits []PendingEdit) (*filetree.Tree, error) {
	out := t
	for _, e := range edits {
		if e.Reverted {
			continue
		}
		var err error
		out, err = out.WithFile(e.Path, e.Content)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
