package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// CommandError reports a failed or timed-out engine invocation. Stderr holds
// the engine's raw diagnostic text.
type CommandError struct {
	Args   []string
	Stderr string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("docker command failed: docker %s", strings.Join(e.Args, " "))
}

// Detail returns the most useful diagnostic text for an error: the engine's
// stderr when available, the error message otherwise.
func Detail(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Stderr) != "" {
		return cmdErr.Stderr
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type execFunc func(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, err error)

// CLI is the single choke point for all engine interaction. Every argument is
// passed to the binary as a discrete argv token; nothing is ever concatenated
// into shell text, so container names carrying quotes or separators cannot
// alter argument boundaries.
type CLI struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
	exec    execFunc
}

// New returns a gateway for the given engine binary. A zero timeout falls
// back to 30s.
func New(bin string, timeout time.Duration, logger *slog.Logger) *CLI {
	if bin == "" {
		bin = "docker"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger != nil {
		logger = logger.With("component", "engine")
	}
	return &CLI{bin: bin, timeout: timeout, logger: logger, exec: runProcess}
}

// Run invokes the engine binary with the given arguments and returns its
// stdout. Non-zero exit and timeout both surface as *CommandError.
func (c *CLI) Run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.exec(runCtx, c.bin, args...)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", &CommandError{
				Args: args,
				Stderr: fmt.Sprintf("command exceeded the %s timeout; check whether the container requires interactive input",
					c.timeout),
			}
		}
		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = err.Error()
		}
		if c.logger != nil {
			c.logger.Debug("engine command failed", "args", strings.Join(args, " "), "error", detail)
		}
		return "", &CommandError{Args: args, Stderr: detail}
	}
	return string(stdout), nil
}

func runProcess(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Ping verifies the engine daemon responds.
func (c *CLI) Ping(ctx context.Context) error {
	_, err := c.Run(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}

// Start starts a stopped container.
func (c *CLI) Start(ctx context.Context, id string) error {
	_, err := c.Run(ctx, "start", id)
	return err
}

// Stop stops a running container.
func (c *CLI) Stop(ctx context.Context, id string) error {
	_, err := c.Run(ctx, "stop", id)
	return err
}

// Restart restarts a container.
func (c *CLI) Restart(ctx context.Context, id string) error {
	_, err := c.Run(ctx, "restart", id)
	return err
}

// Remove deletes a stopped container.
func (c *CLI) Remove(ctx context.Context, id string) error {
	_, err := c.Run(ctx, "rm", id)
	return err
}

// ForceRemove deletes a container regardless of its run state.
func (c *CLI) ForceRemove(ctx context.Context, id string) error {
	_, err := c.Run(ctx, "rm", "-f", id)
	return err
}

// UpdateRestartPolicy sets the restart policy on a live container.
func (c *CLI) UpdateRestartPolicy(ctx context.Context, id, policy string) error {
	_, err := c.Run(ctx, "update", "--restart="+policy, id)
	return err
}

// BuildImage builds the Dockerfile in dir and tags the result.
func (c *CLI) BuildImage(ctx context.Context, tag, dir string) error {
	_, err := c.Run(ctx, "build", "-t", tag, dir)
	return err
}

// CreateContainer runs a full creation argv produced by the portability
// subsystem (or a user-supplied command already split into tokens).
func (c *CLI) CreateContainer(ctx context.Context, args []string) error {
	_, err := c.Run(ctx, args...)
	return err
}

// ExportFilesystem writes the container's filesystem as a tar to path.
func (c *CLI) ExportFilesystem(ctx context.Context, id, path string) error {
	_, err := c.Run(ctx, "export", "-o", path, id)
	return err
}
