package domain

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
)

// Field marks which optional attributes a NodeRecord actually carries.
type Field uint8

const (
	FieldParent Field = 1 << iota
	FieldLabel
	FieldStatus
	FieldHasChildren
)

const coreFields = FieldParent | FieldLabel | FieldStatus

// NodeRecord is the flat wire shape shared by list reads, child reads, push
// events and cache payloads. Fields absent from a decoded payload leave the
// stored node untouched when the record is merged.
type NodeRecord struct {
	ID          NodeID
	ParentID    NodeID
	Label       string
	Status      Status
	HasChildren bool
	Revision    uint64

	fields Field
}

func NewRecord(id, parentID NodeID, label string, status Status) NodeRecord {
	return NodeRecord{
		ID:       id,
		ParentID: parentID,
		Label:    label,
		Status:   status,
		fields:   coreFields,
	}
}

// StatusUpdate builds a partial record that only changes a node's status.
func StatusUpdate(id NodeID, status Status) NodeRecord {
	return NodeRecord{ID: id, Status: status, fields: FieldStatus}
}

func (record NodeRecord) Has(field Field) bool {
	return record.fields&field != 0
}

func (record NodeRecord) WithHasChildren(value bool) NodeRecord {
	record.HasChildren = value
	record.fields |= FieldHasChildren
	return record
}

func (record NodeRecord) WithRevision(revision uint64) NodeRecord {
	record.Revision = revision
	return record
}

func (record NodeRecord) WithParent(parentID NodeID) NodeRecord {
	record.ParentID = parentID
	record.fields |= FieldParent
	return record
}

// Apply copies every present field onto node. Children bookkeeping is left
// to the tree package.
func (record NodeRecord) Apply(node *Node) {
	if record.Has(FieldParent) {
		node.ParentID = record.ParentID
	}
	if record.Has(FieldLabel) {
		node.Label = record.Label
	}
	if record.Has(FieldStatus) {
		node.Status = record.Status
	}
	if record.Has(FieldHasChildren) {
		node.HasChildren = record.HasChildren
	}
	if record.Revision > 0 {
		node.Revision = record.Revision
	}
}

func (record NodeRecord) Node() *Node {
	node := &Node{ID: record.ID}
	record.Apply(node)
	return node
}

func (record NodeRecord) Validate() error {
	return validation.ValidateStruct(&record,
		validation.Field(&record.ID, validation.Required),
		validation.Field(&record.ParentID, validation.By(func(value interface{}) error {
			if parent, _ := value.(NodeID); parent != RootID && parent == record.ID {
				return errors.New("node cannot be its own parent")
			}
			return nil
		})),
		validation.Field(&record.Status, validation.By(func(value interface{}) error {
			if status, _ := value.(Status); !status.Valid() {
				return fmt.Errorf("invalid status %d", status)
			}
			return nil
		})),
	)
}

type wireRecord struct {
	ID          NodeID  `json:"id"`
	ParentID    *NodeID `json:"parentId,omitempty"`
	Label       *string `json:"label,omitempty"`
	Status      *Status `json:"status,omitempty"`
	HasChildren *bool   `json:"hasChildren,omitempty"`
	Revision    uint64  `json:"version,omitempty"`
}

func (record NodeRecord) MarshalJSON() ([]byte, error) {
	wire := wireRecord{ID: record.ID, Revision: record.Revision}
	if record.Has(FieldParent) {
		parent := record.ParentID
		wire.ParentID = &parent
	}
	if record.Has(FieldLabel) {
		label := record.Label
		wire.Label = &label
	}
	if record.Has(FieldStatus) {
		status := record.Status
		wire.Status = &status
	}
	if record.Has(FieldHasChildren) {
		hasChildren := record.HasChildren
		wire.HasChildren = &hasChildren
	}
	return json.Marshal(wire)
}

// UnmarshalJSON tracks key presence so partial push payloads stay partial.
// A parentId of null, 0 or "" is the root sentinel; isActive is accepted as
// an alternative spelling of status.
func (record *NodeRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := NodeRecord{}
	value, ok := raw["id"]
	if !ok {
		return errors.New("node record without id")
	}
	if err := json.Unmarshal(value, &decoded.ID); err != nil {
		return err
	}
	if value, ok := raw["parentId"]; ok {
		if err := json.Unmarshal(value, &decoded.ParentID); err != nil {
			return fmt.Errorf("parentId: %w", err)
		}
		if decoded.ParentID == "0" {
			decoded.ParentID = RootID
		}
		decoded.fields |= FieldParent
	}
	if value, ok := raw["label"]; ok {
		if err := json.Unmarshal(value, &decoded.Label); err != nil {
			return fmt.Errorf("label: %w", err)
		}
		decoded.fields |= FieldLabel
	}
	if value, ok := raw["status"]; ok {
		if err := json.Unmarshal(value, &decoded.Status); err != nil {
			return err
		}
		decoded.fields |= FieldStatus
	} else if value, ok := raw["isActive"]; ok {
		var active bool
		if err := json.Unmarshal(value, &active); err != nil {
			return fmt.Errorf("isActive: %w", err)
		}
		decoded.Status = StatusFromActive(active)
		decoded.fields |= FieldStatus
	}
	if value, ok := raw["hasChildren"]; ok {
		if err := json.Unmarshal(value, &decoded.HasChildren); err != nil {
			return fmt.Errorf("hasChildren: %w", err)
		}
		decoded.fields |= FieldHasChildren
	}
	if value, ok := raw["version"]; ok {
		if err := json.Unmarshal(value, &decoded.Revision); err != nil {
			return fmt.Errorf("version: %w", err)
		}
	}
	*record = decoded
	return nil
}
