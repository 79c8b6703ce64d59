// Package parse turns line-oriented command output into records.
//
// Parsers are permissive: a line that does not fit the expected shape is
// skipped, and a short line leaves the trailing fields empty. Callers assert
// on what was parsed; an empty result is theirs to judge.
package parse

import (
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	dm "github.com/andrej220/bat/pkg/shared-models"
)

var (
	mountPattern = regexp.MustCompile(`(?P<point>.*) on (?P<path>.*) type (?P<type>.*) \((?P<options>.*)\)`)
	swapPattern  = regexp.MustCompile(`(?P<point>.+)\s+(?P<type>.+)\s+(?P<size>.+)\s+(?P<used>.+)\s+(?P<priority>.+)`)
)

// Lines yields the lines of out without their terminators. A trailing
// newline does not produce an extra empty line.
func Lines(out string) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := out
		for rest != "" {
			line := rest
			if i := strings.IndexByte(rest, '\n'); i >= 0 {
				line, rest = rest[:i], rest[i+1:]
			} else {
				rest = ""
			}
			if !yield(strings.TrimSuffix(line, "\r")) {
				return
			}
		}
	}
}

// Disks parses df output with the header already stripped. Each line is split
// on runs of whitespace: filesystem, blocks, used, available, percent, mountpoint.
func Disks(out string) iter.Seq[dm.Disk] {
	return func(yield func(dm.Disk) bool) {
		for line := range Lines(out) {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if !yield(diskFromFields(fields)) {
				return
			}
		}
	}
}

func diskFromFields(fields []string) dm.Disk {
	at := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return dm.Disk{
		Filesystem: at(0),
		Blocks:     at(1),
		Used:       at(2),
		Available:  at(3),
		Percent:    at(4),
		Mountpoint: at(5),
	}
}

// DiskTable collects Disks keyed by filesystem. A later line with the same
// filesystem replaces the earlier one.
func DiskTable(out string) map[string]dm.Disk {
	table := make(map[string]dm.Disk)
	for d := range Disks(out) {
		table[d.Filesystem] = d
	}
	return table
}

// Mounts parses mount output, e.g. "/dev/sda1 on / type ext4 (rw,relatime)".
func Mounts(out string) iter.Seq[dm.Mount] {
	return func(yield func(dm.Mount) bool) {
		for line := range Lines(out) {
			m := namedCaptures(mountPattern, line)
			if m == nil {
				continue
			}
			mount := dm.Mount{
				Point:   m["point"],
				Path:    m["path"],
				Type:    m["type"],
				Options: m["options"],
			}
			if !yield(mount) {
				return
			}
		}
	}
}

// Swaps parses swapon -s output. The first line is the header and is always skipped.
func Swaps(out string) iter.Seq[dm.Swap] {
	return func(yield func(dm.Swap) bool) {
		first := true
		for line := range Lines(out) {
			if first {
				first = false
				continue
			}
			m := namedCaptures(swapPattern, line)
			if m == nil {
				continue
			}
			swap := dm.Swap{
				Point:    m["point"],
				Type:     m["type"],
				Size:     m["size"],
				Used:     m["used"],
				Priority: m["priority"],
			}
			if !yield(swap) {
				return
			}
		}
	}
}

// namedCaptures returns the named groups of the first match of re in line,
// trimmed of surrounding whitespace, or nil when line does not match.
func namedCaptures(re *regexp.Regexp, line string) map[string]string {
	match := re.FindStringSubmatch(line)
	if match == nil {
		return nil
	}
	out := make(map[string]string, len(match)-1)
	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(match[i])
	}
	return out
}

// Instances decodes the orchestrator's JSON instance listing and returns the
// rows of its first table. Only a payload that is not JSON is an error.
func Instances(out string) ([]dm.Instance, error) {
	if !gjson.Valid(out) {
		return nil, fmt.Errorf("instances output is not valid JSON")
	}
	rows := gjson.Get(out, "Tables.0.Rows")
	instances := make([]dm.Instance, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		instances = append(instances, instanceFromRow(row))
		return true
	})
	return instances, nil
}

func instanceFromRow(row gjson.Result) dm.Instance {
	fields := make(map[string]string)
	row.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = value.String()
		return true
	})

	index := -1
	if raw := strings.TrimSpace(row.Get("index").String()); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			index = n
		}
	}

	return dm.Instance{
		Name:         row.Get("instance").String(),
		Index:        index,
		State:        row.Get("state").String(),
		ProcessState: row.Get("process_state").String(),
		VMCID:        row.Get("vm_cid").String(),
		DiskCIDs:     diskCIDs(row.Get("disk_cids")),
		AgentID:      row.Get("agent_id").String(),
		Fields:       fields,
	}
}

// disk_cids comes either as a JSON list or as a whitespace separated string.
func diskCIDs(v gjson.Result) []string {
	if v.IsArray() {
		var cids []string
		for _, c := range v.Array() {
			if s := c.String(); s != "" {
				cids = append(cids, s)
			}
		}
		return cids
	}
	return strings.Fields(v.String())
}
