// Package github implements snapshot.Fetcher using the GitHub API.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/previewlabs/previewd/pkg/filetree"
)

// maxBlobSize caps individual files pulled into a snapshot. Larger blobs
// are almost always assets or build output the preview doesn't need.
const maxBlobSize = 1 << 20

// Client fetches repository snapshots from GitHub.
type Client struct {
	gh *gogh.Client
}

// New creates a GitHub snapshot client authenticated with the given token.
func New(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// Fetch retrieves the full file tree of repo at branch.
func (c *Client) Fetch(ctx context.Context, repoFullName, branch string) (*filetree.Tree, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	br, _, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 3)
	if err != nil {
		return nil, fmt.Errorf("resolving branch %s: %w", branch, err)
	}
	sha := br.GetCommit().GetSHA()

	ghTree, _, err := c.gh.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, fmt.Errorf("fetching tree for %s@%s: %w", repoFullName, branch, err)
	}

	b := filetree.NewBuilder()
	for _, entry := range ghTree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		if entry.GetSize() > maxBlobSize {
			continue
		}
		content, err := c.blobContent(ctx, owner, repo, entry.GetSHA())
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", entry.GetPath(), err)
		}
		if err := b.Add(entry.GetPath(), content); err != nil {
			return nil, fmt.Errorf("building tree: %w", err)
		}
	}

	return b.Build(), nil
}

func (c *Client) blobContent(ctx context.Context, owner, repo, sha string) (string, error) {
	blob, _, err := c.gh.Git.GetBlob(ctx, owner, repo, sha)
	if err != nil {
		return "", err
	}
	raw := blob.GetContent()
	if blob.GetEncoding() != "base64" {
		return raw, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decoding blob: %w", err)
	}
	return string(decoded), nil
}

// splitRepo parses "owner/repo" into its parts.
func splitRepo(full string) (owner, repo string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q (want owner/repo)", full)
	}
	return parts[0], parts[1], nil
}
