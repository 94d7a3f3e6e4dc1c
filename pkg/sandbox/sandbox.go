// Package sandbox defines the Runtime interface to the isolated-compute
// primitive: boot an execution sandbox, mount a file tree into it, spawn
// processes with streamed output, and tear it down. The host-level VM and
// container-pool infrastructure behind this boundary is not part of this
// core.
package sandbox

import (
	"context"

	"github.com/previewlabs/previewd/pkg/filetree"
)

// Handle is the opaque ownership token for one booted sandbox instance.
// Process spawns and filesystem writes are only valid through a handle, and
// a handle is exclusively owned by one lifecycle controller entry.
type Handle string

// BootOptions configures a new sandbox instance.
type BootOptions struct {
	ViewID  string
	Image   string
	Network string
	Env     []string

	// Resource limits (zero means the runtime default).
	MemoryMB int
	CPUs     int
}

// Process is a spawned command with line-streamed combined output. Scan and
// Text follow the bufio.Scanner protocol; Wait blocks until the process
// exits and returns its exit code.
type Process interface {
	Scan() bool
	Text() string
	Err() error
	Wait() (int, error)
	Kill() error
}

// Runtime manages sandbox instances.
type Runtime interface {
	// Boot creates a new sandbox instance and returns its handle.
	Boot(ctx context.Context, opts BootOptions) (Handle, error)

	// Mount writes the file tree into the sandbox workspace, replacing any
	// previously mounted tree. A running process is not restarted; dev
	// servers pick up filesystem changes on their own.
	Mount(ctx context.Context, h Handle, tree *filetree.Tree) error

	// Spawn starts a command in the sandbox workspace.
	Spawn(ctx context.Context, h Handle, program string, args []string) (Process, error)

	// PreviewURL maps a port the sandboxed server listens on to an
	// externally reachable URL.
	PreviewURL(ctx context.Context, h Handle, port int) (string, error)

	// Teardown destroys the sandbox instance. Safe to call more than once.
	Teardown(ctx context.Context, h Handle) error
}
