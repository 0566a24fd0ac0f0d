package domain

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// NodeID identifies a node across the whole forest. Remote payloads may carry
// numeric or string ids; both decode into the same NodeID.
type NodeID string

// RootID is the parent id of top-level nodes.
const RootID NodeID = ""

func (id NodeID) IsRoot() bool {
	return id == RootID
}

func (id NodeID) String() string {
	return string(id)
}

func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.IsRoot() {
		return []byte("null"), nil
	}
	if number, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(number, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = RootID
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = NodeID(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	*id = NodeID(number.String())
	return nil
}

type Node struct {
	ID             NodeID
	ParentID       NodeID
	Label          string
	Status         Status
	ChildIDs       []NodeID
	HasChildren    bool
	ChildrenLoaded bool
	// Orphan marks a provisional root whose declared parent has not arrived yet.
	Orphan bool
	// Version is the logical stamp of the last write applied to this node.
	Version uint64
	// Revision is the server-provided version, zero when the server sends none.
	Revision uint64
}

// IsLeaf reports a confirmed leaf: children were fetched and there are none.
func (node *Node) IsLeaf() bool {
	return node.ChildrenLoaded && !node.HasChildren
}

func (node *Node) Clone() *Node {
	clone := *node
	if node.ChildIDs != nil {
		clone.ChildIDs = append([]NodeID{}, node.ChildIDs...)
	}
	return &clone
}

// Record converts the node back into its flat wire form with every field present.
func (node *Node) Record() NodeRecord {
	record := NewRecord(node.ID, node.ParentID, node.Label, node.Status)
	record.Revision = node.Revision
	return record
}
