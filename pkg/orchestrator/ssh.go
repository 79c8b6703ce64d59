package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/andrej220/bat/internal/lg"
	"github.com/andrej220/bat/pkg/parse"
	dm "github.com/andrej220/bat/pkg/shared-models"
)

const (
	PersistentDiskMountpoint = "/var/vcap/store"
	AgentSettingsPath        = "/var/vcap/bosh/agent.json"

	dfCommand    = "df -x tmpfs -x devtmpfs -x debugfs -l | tail -n +2"
	mountCommand = "mount"
	swapCommand  = "PATH=$PATH:/usr/sbin swapon -s"
	stdoutColumn = "stdout"
)

var ErrNoPersistentDisk = errors.New("could not find persistent disk")

// ExecOptions shape an orchestrator ssh invocation.
type ExecOptions struct {
	// Result asks the orchestrator to capture the command's result instead
	// of streaming a terminal session.
	Result bool
	// Column restricts captured output to one column, e.g. "stdout".
	Column string
}

// stdoutOnly is used by every helper that parses the command's output.
var stdoutOnly = ExecOptions{Result: true, Column: stdoutColumn}

// SSHArgs builds the ssh subcommand for job/index.
func SSHArgs(job string, index int, command string, opts ExecOptions) []string {
	args := []string{"ssh", job + "/" + strconv.Itoa(index), "-c", command}
	if opts.Result {
		args = append(args, "--results")
	}
	if opts.Column != "" {
		args = append(args, "--column="+opts.Column)
	}
	return args
}

// SSH runs command on job/index through the orchestrator, in text mode.
func (c *Client) SSH(ctx context.Context, job string, index int, command string, opts ExecOptions) (*Result, error) {
	c.logger.Info("--> orchestrator ssh",
		lg.String("job", job), lg.Int("index", index), lg.String("command", command))
	return c.Run(ctx, SSHArgs(job, index, command, opts), false)
}

func (c *Client) stdout(ctx context.Context, job string, index int, command string) (string, error) {
	res, err := c.SSH(ctx, job, index, command, stdoutOnly)
	if err != nil {
		return "", fmt.Errorf("%s on %s/%d: %w", command, job, index, err)
	}
	return res.Output, nil
}

// Disks returns the instance's df table keyed by filesystem.
func (c *Client) Disks(ctx context.Context, job string, index int) (map[string]dm.Disk, error) {
	out, err := c.stdout(ctx, job, index, dfCommand)
	if err != nil {
		return nil, err
	}
	return parse.DiskTable(out), nil
}

// PersistentDisk returns the block count of the disk mounted at /var/vcap/store.
func (c *Client) PersistentDisk(ctx context.Context, job string, index int) (string, error) {
	disks, err := c.Disks(ctx, job, index)
	if err != nil {
		return "", err
	}
	for _, d := range disks {
		if d.Mountpoint == PersistentDiskMountpoint {
			return d.Blocks, nil
		}
	}
	return "", fmt.Errorf("%w on %s/%d", ErrNoPersistentDisk, job, index)
}

func (c *Client) Mounts(ctx context.Context, job string, index int) ([]dm.Mount, error) {
	out, err := c.stdout(ctx, job, index, mountCommand)
	if err != nil {
		return nil, err
	}
	return slices.Collect(parse.Mounts(out)), nil
}

func (c *Client) Swaps(ctx context.Context, job string, index int) ([]dm.Swap, error) {
	out, err := c.stdout(ctx, job, index, swapCommand)
	if err != nil {
		return nil, err
	}
	return slices.Collect(parse.Swaps(out)), nil
}

// AgentSetting reads the agent's settings file and returns the value at
// path, a gjson path such as "Platform.Linux.CreatePartitionIfNoEphemeralDisk".
func (c *Client) AgentSetting(ctx context.Context, job string, index int, path string) (gjson.Result, error) {
	out, err := c.stdout(ctx, job, index, "sudo cat "+AgentSettingsPath)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.Valid(out) {
		return gjson.Result{}, fmt.Errorf("%s on %s/%d is not valid JSON", AgentSettingsPath, job, index)
	}
	return gjson.Get(out, path), nil
}
