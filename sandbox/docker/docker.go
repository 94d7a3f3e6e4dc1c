// Package docker implements sandbox.Runtime using Docker containers driven
// through the docker CLI.
package docker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/previewlabs/previewd/pkg/filetree"
	"github.com/previewlabs/previewd/pkg/sandbox"
)

// DefaultMemoryMB is the default container memory limit (2 GB).
const DefaultMemoryMB = 2048

// DefaultCPUs is the default CPU limit for sandbox containers.
const DefaultCPUs = 2

// workspaceDir is where the project tree is mounted inside the container.
const workspaceDir = "/workspace/app"

// Runtime implements sandbox.Runtime using Docker.
type Runtime struct {
	dockerBin string
}

// New creates a new Docker sandbox runtime.
func New() *Runtime {
	return &Runtime{
		dockerBin: findDocker(),
	}
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations (Docker Desktop on macOS, Homebrew, etc.).
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	candidates := []string{
		"/Applications/Docker.app/Contents/Resources/bin/docker",
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

func (r *Runtime) docker(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.dockerBin, args...)
}

// Boot creates a long-lived container for one viewing session. The container
// idles until processes are spawned into it.
func (r *Runtime) Boot(ctx context.Context, opts sandbox.BootOptions) (sandbox.Handle, error) {
	if opts.Network != "" {
		if err := r.ensureNetwork(ctx, opts.Network); err != nil {
			return "", err
		}
	}

	args := []string{
		"run", "-d",
		"--name", fmt.Sprintf("previewd-%s", opts.ViewID),
		"--label", "previewd.view=" + opts.ViewID,
	}

	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}

	// Resource limits to prevent runaway containers.
	memMB := opts.MemoryMB
	if memMB <= 0 {
		memMB = DefaultMemoryMB
	}
	args = append(args, "--memory", fmt.Sprintf("%dm", memMB))

	cpus := opts.CPUs
	if cpus <= 0 {
		cpus = DefaultCPUs
	}
	args = append(args, "--cpus", fmt.Sprintf("%d", cpus))
	args = append(args, "--pids-limit", "512")

	envVars := append([]string(nil), opts.Env...)
	envVars = append(envVars, "PREVIEWD_VIEW_ID="+opts.ViewID)
	for _, e := range envVars {
		args = append(args, "-e", e)
	}

	args = append(args, "--entrypoint", "sleep", opts.Image, "infinity")

	cmd := r.docker(ctx, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("booting container: %w\noutput: %s", err, string(output))
	}

	containerID := strings.TrimSpace(string(output))

	if out, err := r.docker(ctx, "exec", containerID, "mkdir", "-p", workspaceDir).CombinedOutput(); err != nil {
		return "", fmt.Errorf("creating workspace: %w\noutput: %s", err, string(out))
	}

	return sandbox.Handle(containerID), nil
}

// Mount materializes the tree into a staging directory on the host and
// copies it into the container workspace.
func (r *Runtime) Mount(ctx context.Context, h sandbox.Handle, tree *filetree.Tree) error {
	staging, err := os.MkdirTemp("", "previewd-mount-")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := materialize(staging, tree); err != nil {
		return fmt.Errorf("materializing tree: %w", err)
	}

	cmd := r.docker(ctx, "cp", staging+"/.", string(h)+":"+workspaceDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("copying tree into sandbox: %w\noutput: %s", err, string(output))
	}
	return nil
}

// materialize writes every file in the tree under dir.
func materialize(dir string, tree *filetree.Tree) error {
	var werr error
	tree.Walk(func(path string, n *filetree.Node) {
		if werr != nil {
			return
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if !strings.HasPrefix(target, dir+string(filepath.Separator)) {
			werr = fmt.Errorf("invalid path %q", path)
			return
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			werr = err
			return
		}
		if err := os.WriteFile(target, []byte(n.Content), 0o644); err != nil {
			werr = err
		}
	})
	return werr
}

// Spawn runs a command in the container workspace and returns a streaming
// process. Stderr is redirected into stdout at the source so both streams
// interleave in real time.
func (r *Runtime) Spawn(ctx context.Context, h sandbox.Handle, program string, args []string) (sandbox.Process, error) {
	execArgs := append([]string{"exec", "-w", workspaceDir, string(h), program}, args...)
	cmd := r.docker(ctx, execArgs...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", program, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)

	return &process{
		scanner: scanner,
		cmd:     cmd,
	}, nil
}

// PreviewURL resolves the container's network address for the given port.
func (r *Runtime) PreviewURL(ctx context.Context, h sandbox.Handle, port int) (string, error) {
	cmd := r.docker(ctx, "inspect", "-f", "{{range .NetworkSettings.Networks}}{{.IPAddress}} {{end}}", string(h))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w\noutput: %s", err, string(output))
	}
	ip := strings.TrimSpace(string(output))
	if i := strings.IndexByte(ip, ' '); i >= 0 {
		ip = ip[:i]
	}
	if ip == "" {
		return "", fmt.Errorf("container %s has no network address", h)
	}
	return fmt.Sprintf("http://%s:%d", ip, port), nil
}

// Teardown kills and removes the container. Already-gone containers are not
// an error.
func (r *Runtime) Teardown(ctx context.Context, h sandbox.Handle) error {
	_ = r.docker(ctx, "kill", string(h)).Run()
	cmd := r.docker(ctx, "rm", "-f", string(h))
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("removing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// ensureNetwork creates the Docker network if it doesn't exist.
func (r *Runtime) ensureNetwork(ctx context.Context, name string) error {
	check := r.docker(ctx, "network", "inspect", name)
	if check.Run() == nil {
		return nil
	}

	cmd := r.docker(ctx, "network", "create", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating network %q: %w\noutput: %s", name, err, string(output))
	}
	return nil
}

// process wraps a docker exec command with line scanning.
type process struct {
	scanner *bufio.Scanner
	cmd     *exec.Cmd
}

func (p *process) Scan() bool   { return p.scanner.Scan() }
func (p *process) Text() string { return p.scanner.Text() }
func (p *process) Err() error   { return p.scanner.Err() }

// Wait blocks until the process exits and returns its exit code.
func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("waiting for process: %w", err)
}

func (p *process) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
