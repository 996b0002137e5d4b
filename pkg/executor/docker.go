package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ContainerEngine is the out-of-process container boundary. Only textual
// output and exit codes cross it.
type ContainerEngine interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	Pull(ctx context.Context, image string) error
	Entrypoint(ctx context.Context, image string) ([]string, error)
	Create(ctx context.Context, opts CreateOptions) (string, error)
	CopyIn(ctx context.Context, src, container, dst string) error
	Start(ctx context.Context, container string, stdout, stderr io.Writer) (ExitStatus, error)
	CopyOut(ctx context.Context, container, src, dst string) error
	Remove(ctx context.Context, container string) error
}

// CreateOptions configures a created, not yet started, container.
type CreateOptions struct {
	Name       string
	Image      string
	Workdir    string
	EnvFile    string
	Entrypoint string
	Cmd        []string
}

// Docker drives the docker CLI.
type Docker struct {
	Binary string
	Exec   CommandExecutor
	Runner StreamRunner
	Env    []string // environment of the docker CLI itself; nil inherits
}

// NewDocker returns a Docker engine using the docker binary on PATH.
func NewDocker(env []string) *Docker {
	r := &RealExecutor{}
	return &Docker{Binary: "docker", Exec: r, Runner: r, Env: env}
}

func (d *Docker) binary() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

// run executes a docker subcommand and fails on a non-zero exit.
func (d *Docker) run(ctx context.Context, args ...string) (*CommandResult, error) {
	res, err := d.Exec.Execute(ctx, d.binary(), args, d.Env)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{
			Args:     append([]string{d.binary()}, args...),
			ExitCode: res.ExitCode,
			Stderr:   string(res.Stderr),
		}
	}
	return res, nil
}

// ImageExists reports whether image is present locally.
func (d *Docker) ImageExists(ctx context.Context, image string) (bool, error) {
	res, err := d.Exec.Execute(ctx, d.binary(), []string{"image", "inspect", "--format", "{{.Id}}", image}, d.Env)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (d *Docker) Pull(ctx context.Context, image string) error {
	if _, err := d.run(ctx, "pull", image); err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	return nil
}

// Entrypoint returns the entrypoint declared by image, or nil.
func (d *Docker) Entrypoint(ctx context.Context, image string) ([]string, error) {
	res, err := d.run(ctx, "image", "inspect", "--format", "{{json .Config.Entrypoint}}", image)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", image, err)
	}
	var entrypoint []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(res.Stdout))), &entrypoint); err != nil {
		return nil, fmt.Errorf("inspect %s: parse entrypoint: %w", image, err)
	}
	return entrypoint, nil
}

// Create creates a container and returns its id.
func (d *Docker) Create(ctx context.Context, opts CreateOptions) (string, error) {
	args := []string{"create"}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	if opts.EnvFile != "" {
		args = append(args, "--env-file", opts.EnvFile)
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	args = append(args, "--name", opts.Name, opts.Image)
	args = append(args, opts.Cmd...)

	res, err := d.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", opts.Name, err)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// CopyIn copies a host path into container:dst.
func (d *Docker) CopyIn(ctx context.Context, src, container, dst string) error {
	if _, err := d.run(ctx, "cp", src, container+":"+dst); err != nil {
		return fmt.Errorf("copy %s into %s: %w", src, container, err)
	}
	return nil
}

// Start starts container attached and streams its output until it exits.
func (d *Docker) Start(ctx context.Context, container string, stdout, stderr io.Writer) (ExitStatus, error) {
	status, err := d.Runner.Stream(ctx, Command{
		Name:   d.binary(),
		Args:   []string{"start", "--attach", container},
		Env:    d.Env,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return ExitStatus{}, fmt.Errorf("start %s: %w", container, err)
	}
	return status, nil
}

// CopyOut copies container:src to a host path.
func (d *Docker) CopyOut(ctx context.Context, container, src, dst string) error {
	if _, err := d.run(ctx, "cp", container+":"+src, dst); err != nil {
		return fmt.Errorf("copy %s out of %s: %w", src, container, err)
	}
	return nil
}

// Remove force-removes container.
func (d *Docker) Remove(ctx context.Context, container string) error {
	if _, err := d.run(ctx, "rm", "-f", container); err != nil {
		return fmt.Errorf("remove %s: %w", container, err)
	}
	return nil
}
