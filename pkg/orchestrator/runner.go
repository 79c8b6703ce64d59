package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/alessio/shellescape"
)

var (
	// ErrCommandFailed is matched by *CommandError.
	ErrCommandFailed = errors.New("orchestrator command failed")
)

// RunOptions are per-invocation settings passed to a Runner.
type RunOptions struct {
	Deployment string
	// JSON requests the orchestrator's structured table output.
	JSON bool
}

// Result is a completed orchestrator invocation.
type Result struct {
	Args       []string
	Output     string
	ExitStatus int
}

// CommandLine renders the invocation for logs.
func (r *Result) CommandLine() string {
	return shellescape.QuoteCommand(r.Args)
}

// Runner invokes the orchestrator CLI. It returns an error only when the
// process could not run; a non-zero exit is reported in Result.ExitStatus.
type Runner interface {
	Run(ctx context.Context, args []string, opts RunOptions) (*Result, error)
}

// CommandError is returned by Client.Run when the orchestrator exits non-zero.
type CommandError struct {
	Args       []string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s",
		shellescape.QuoteCommand(e.Args), e.ExitStatus, e.Output)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

// CLIRunner runs the orchestrator binary as a local process.
type CLIRunner struct {
	Binary string
	// Environment is the director alias passed with -e.
	Environment string
	// Env is appended to the process environment, e.g. client credentials.
	Env []string
}

var _ Runner = (*CLIRunner)(nil)

func (r *CLIRunner) Run(ctx context.Context, args []string, opts RunOptions) (*Result, error) {
	argv := r.argv(args, opts)
	cmd := exec.CommandContext(ctx, r.binary(), argv...)
	cmd.Env = append(os.Environ(), r.Env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	res := &Result{Args: append([]string{r.binary()}, argv...)}
	err := cmd.Run()
	res.Output = out.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("run %s: %w", res.CommandLine(), err)
	}
	return res, nil
}

func (r *CLIRunner) binary() string {
	if r.Binary == "" {
		return "bosh"
	}
	return r.Binary
}

func (r *CLIRunner) argv(args []string, opts RunOptions) []string {
	var argv []string
	if r.Environment != "" {
		argv = append(argv, "-e", r.Environment)
	}
	if opts.Deployment != "" {
		argv = append(argv, "-d", opts.Deployment)
	}
	if opts.JSON {
		argv = append(argv, "--json")
	}
	return append(argv, args...)
}
