package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/samber/lo"

	"github.com/andrej220/bat/internal/lg"
	"github.com/andrej220/bat/pkg/parse"
	dm "github.com/andrej220/bat/pkg/shared-models"
)

// ErrInstanceNotFound is returned by lookups that need an instance to exist.
var ErrInstanceNotFound = errors.New("instance not found")

// Instances fetches the current inventory. Every call queries the orchestrator.
func (c *Client) Instances(ctx context.Context) ([]dm.Instance, error) {
	res, err := c.Run(ctx, []string{"instances", "--details"}, true)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	instances, err := parse.Instances(res.Output)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// FindInstance returns the first inventory entry for job name at index.
// An entry matches when its display field is either "name/<id>" with a
// 36 character id, or "name/index (<id>)" and its index field equals index.
// The index is only checked for the second form.
func (c *Client) FindInstance(ctx context.Context, name string, index int) (dm.Instance, bool, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return dm.Instance{}, false, err
	}
	inst, ok := FindInstance(instances, name, index)
	c.logger.Debug("resolved instance",
		lg.String("name", name), lg.Int("index", index),
		lg.Bool("found", ok), lg.String("instance", inst.Name))
	return inst, ok, nil
}

// FindInstance applies the lookup rule of Client.FindInstance to a snapshot.
func FindInstance(instances []dm.Instance, name string, index int) (dm.Instance, bool) {
	quoted := regexp.QuoteMeta(name)
	identifierForm := regexp.MustCompile(quoted + `/[a-f0-9\-]{36}`)
	indexedForm := regexp.MustCompile(fmt.Sprintf(`%s/%d \([a-f0-9\-]+\)`, quoted, index))

	return lo.Find(instances, func(i dm.Instance) bool {
		return identifierForm.MatchString(i.Name) ||
			(indexedForm.MatchString(i.Name) && i.Index == index)
	})
}

func (c *Client) mustFind(ctx context.Context, name string, index int) (dm.Instance, error) {
	inst, ok, err := c.FindInstance(ctx, name, index)
	if err != nil {
		return dm.Instance{}, err
	}
	if !ok {
		return dm.Instance{}, fmt.Errorf("%w: %s/%d", ErrInstanceNotFound, name, index)
	}
	return inst, nil
}

func (c *Client) VMCID(ctx context.Context, name string, index int) (string, error) {
	inst, err := c.mustFind(ctx, name, index)
	return inst.VMCID, err
}

func (c *Client) DiskCIDs(ctx context.Context, name string, index int) ([]string, error) {
	inst, err := c.mustFind(ctx, name, index)
	return inst.DiskCIDs, err
}

func (c *Client) AgentID(ctx context.Context, name string, index int) (string, error) {
	inst, err := c.mustFind(ctx, name, index)
	return inst.AgentID, err
}

// UnresponsiveAgentInstance returns the first instance whose agent stopped responding.
func (c *Client) UnresponsiveAgentInstance(ctx context.Context) (dm.Instance, bool, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return dm.Instance{}, false, err
	}
	inst, ok := lo.Find(instances, func(i dm.Instance) bool {
		return i.ProcessState == dm.ProcessStateUnresponsiveAgent
	})
	return inst, ok, nil
}

func (c *Client) UnresponsiveAgentVMCID(ctx context.Context) (string, error) {
	inst, ok, err := c.UnresponsiveAgentInstance(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no instance with an unresponsive agent", ErrInstanceNotFound)
	}
	return inst.VMCID, nil
}

// VMExists reports whether any instance is backed by vmCID.
func (c *Client) VMExists(ctx context.Context, vmCID string) (bool, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(instances, func(i dm.Instance) bool { return i.VMCID == vmCID }), nil
}
