// Package orchestrator drives the deployment orchestrator's CLI: it lists
// instances, resolves a single instance by job name and index, and runs
// commands on instances through the orchestrator's ssh subcommand.
package orchestrator

import (
	"context"

	"github.com/andrej220/bat/internal/lg"
)

// Client binds a Runner to one deployment.
type Client struct {
	runner     Runner
	deployment string
	logger     lg.Logger
}

func NewClient(runner Runner, deployment string, logger lg.Logger) *Client {
	if logger == nil {
		logger = lg.Discard
	}
	return &Client{
		runner:     runner,
		deployment: deployment,
		logger:     logger.With(lg.String("deployment", deployment)),
	}
}

func (c *Client) Deployment() string { return c.deployment }

// RunSafe runs args and returns the result whatever the exit status.
func (c *Client) RunSafe(ctx context.Context, args []string, json bool) (*Result, error) {
	opts := RunOptions{Deployment: c.deployment, JSON: json}
	c.logger.Debug("--> orchestrator", lg.Strings("args", args), lg.Bool("json", json))
	res, err := c.runner.Run(ctx, args, opts)
	if err != nil {
		c.logger.Error("orchestrator invocation failed", lg.Strings("args", args), lg.Err(err))
		return nil, err
	}
	c.logger.Debug("--> orchestrator result",
		lg.String("command", res.CommandLine()),
		lg.Int("exit_status", res.ExitStatus))
	return res, nil
}

// Run runs args and fails with a *CommandError on a non-zero exit.
func (c *Client) Run(ctx context.Context, args []string, json bool) (*Result, error) {
	res, err := c.RunSafe(ctx, args, json)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		cmdArgs := res.Args
		if len(cmdArgs) == 0 {
			cmdArgs = args
		}
		return res, &CommandError{Args: cmdArgs, ExitStatus: res.ExitStatus, Output: res.Output}
	}
	return res, nil
}
