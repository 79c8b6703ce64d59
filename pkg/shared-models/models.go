package datamodels

import (
	"regexp"

	"github.com/google/uuid"
)

// Lifecycle and process states reported by the orchestrator.
const (
	StateRunning  = "running"
	StateDetached = "detached"

	ProcessStateRunning           = "running"
	ProcessStateUnresponsiveAgent = "unresponsive agent"
)

var identifierPattern = regexp.MustCompile(`[a-f0-9\-]{36}`)

// Instance is one row of the orchestrator's detailed instance listing.
// Name is the composite display field, e.g. "batlight/3f9e1a2b-..." or
// "colocated/0 (3f9e1a2b-...)". Index is -1 when the row carries none.
type Instance struct {
	Name         string            `json:"instance"`
	Index        int               `json:"index"`
	State        string            `json:"state"`
	ProcessState string            `json:"process_state"`
	VMCID        string            `json:"vm_cid,omitempty"`
	DiskCIDs     []string          `json:"disk_cids"`
	AgentID      string            `json:"agent_id"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// UUID returns the identifier embedded in the display field.
func (i Instance) UUID() (uuid.UUID, bool) {
	raw := identifierPattern.FindString(i.Name)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Disk is one line of df output. Values are kept verbatim.
type Disk struct {
	Filesystem string `json:"filesystem"`
	Blocks     string `json:"blocks"`
	Used       string `json:"used"`
	Available  string `json:"available"`
	Percent    string `json:"percent"`
	Mountpoint string `json:"mountpoint"`
}

// Mount is one line of mount output.
type Mount struct {
	Point   string `json:"point"`
	Path    string `json:"path"`
	Type    string `json:"type"`
	Options string `json:"options"`
}

// Swap is one line of swapon -s output.
type Swap struct {
	Point    string `json:"point"`
	Type     string `json:"type"`
	Size     string `json:"size"`
	Used     string `json:"used"`
	Priority string `json:"priority"`
}
