// Package snapshot defines the repository-snapshot fetch boundary: one
// immutable file tree per (repo, branch) at a point in time.
package snapshot

import (
	"context"

	"github.com/previewlabs/previewd/pkg/filetree"
)

// Fetcher retrieves a repository file tree for a branch. Fetch failures
// (network, auth, unknown repo or branch) are surfaced verbatim; the
// orchestrator never retries them.
type Fetcher interface {
	Fetch(ctx context.Context, repo, branch string) (*filetree.Tree, error)
}
