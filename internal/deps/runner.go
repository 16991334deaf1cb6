package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/logging"
)

// DefaultBatchTimeout bounds one package-manager invocation. A timeout is
// a phase failure, not a process crash.
const DefaultBatchTimeout = 5 * time.Minute

// Runner shells out to the project's package manager to install planned
// dependency batches.
type Runner struct {
	PM  string // "npm", "yarn", "pnpm", "bun"
	Dir string // project root, working directory for invocations

	// Timeout applies per batch. Zero means DefaultBatchTimeout.
	Timeout time.Duration

	// Stdout and Stderr can be set for testing; defaults to io.Discard.
	Stdout io.Writer
	Stderr io.Writer
}

// Install runs the package manager over the given specs in batches.
// Batches already installed before a failure are not rolled back; the
// returned error names the failing batch so the partial state is explicit.
func (r *Runner) Install(ctx context.Context, specs []capability.DependencySpec, dev bool) error {
	if len(specs) == 0 {
		return nil
	}

	bin, err := exec.LookPath(r.PM)
	if err != nil {
		return fmt.Errorf("package manager %q not found on PATH: %w", r.PM, err)
	}
	if err := Preflight(ctx, r.PM); err != nil {
		return err
	}

	batches := Batches(specs, DefaultMaxBatch)
	for i, batch := range batches {
		if err := r.runBatch(ctx, bin, batch, dev); err != nil {
			return fmt.Errorf("dependency batch %d/%d (%s): %w",
				i+1, len(batches), summarizeBatch(batch), err)
		}
	}
	return nil
}

func (r *Runner) runBatch(ctx context.Context, bin string, batch []capability.DependencySpec, dev bool) error {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultBatchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := installArgs(r.PM, batch, dev)
	logging.L().Debug("running package manager",
		zap.String("pm", r.PM),
		zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = r.Dir

	stdout := r.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	var stderrBuf bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", timeout)
	}

	msg := lastLine(stderrBuf.String())
	if msg != "" {
		return fmt.Errorf("%s: %s", err, msg)
	}
	return err
}

// installArgs builds the add/install argument list for each supported
// package manager.
func installArgs(pm string, batch []capability.DependencySpec, dev bool) []string {
	var args []string
	switch pm {
	case "yarn", "pnpm", "bun":
		args = append(args, "add")
		if dev {
			if pm == "bun" {
				args = append(args, "--dev")
			} else {
				args = append(args, "-D")
			}
		}
	default: // npm
		args = append(args, "install")
		if dev {
			args = append(args, "--save-dev")
		}
	}

	for _, spec := range batch {
		args = append(args, spec.Name+"@"+spec.Version)
	}
	return args
}

func summarizeBatch(batch []capability.DependencySpec) string {
	if len(batch) == 1 {
		return batch[0].Name
	}
	return fmt.Sprintf("%s and %d more", batch[0].Name, len(batch)-1)
}

// lastLine returns the last non-empty line of command output, used to
// surface the package manager's own error message.
func lastLine(s string) string {
	var last string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	return last
}
