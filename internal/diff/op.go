package diff

import (
	"encoding/json"

	"github.com/testview/backend/internal/item"
)

// Kind classifies a diff operation.
type Kind int

const (
	KindAdd Kind = iota
	KindUpdate
	KindRemove
	KindRetire
)

var kindNames = map[Kind]string{
	KindAdd:    "add",
	KindUpdate: "update",
	KindRemove: "remove",
	KindRetire: "retire",
}

var kindFromName = map[string]Kind{
	"add":    KindAdd,
	"update": KindUpdate,
	"remove": KindRemove,
	"retire": KindRetire,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// Op is one tagged diff operation. Exactly one payload field matching Kind
// is set.
type Op struct {
	Kind   Kind      `json:"kind"`
	Add    *AddOp    `json:"add,omitempty"`
	Update *UpdateOp `json:"update,omitempty"`
	Remove *RemoveOp `json:"remove,omitempty"`
	Retire *RetireOp `json:"retire,omitempty"`
}

// AddOp introduces a new item under ParentID ("" for roots).
type AddOp struct {
	TreeID     int              `json:"treeId"`
	ParentID   string           `json:"parentId,omitempty"`
	ProviderID string           `json:"providerId,omitempty"`
	Expand     item.ExpandState `json:"expand"`
	Item       item.Snapshot    `json:"item"`
}

// UpdateOp carries partial field changes for an existing item. Keys are the
// snapshot property names plus "expand" for state transitions.
type UpdateOp struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// RemoveOp deletes an item and, implicitly, all of its descendants.
type RemoveOp struct {
	ID string `json:"id"`
}

// RetireOp marks an item's results as outdated without structural change.
type RetireOp struct {
	Item item.Snapshot `json:"item"`
}

func NewAdd(treeID int, parentID, providerID string, expand item.ExpandState, snap item.Snapshot) *Op {
	return &Op{Kind: KindAdd, Add: &AddOp{
		TreeID:     treeID,
		ParentID:   parentID,
		ProviderID: providerID,
		Expand:     expand,
		Item:       snap,
	}}
}

func NewUpdate(id, key string, value any) *Op {
	return &Op{Kind: KindUpdate, Update: &UpdateOp{
		ID:     id,
		Fields: map[string]any{key: value},
	}}
}

func NewRemove(id string) *Op {
	return &Op{Kind: KindRemove, Remove: &RemoveOp{ID: id}}
}

func NewRetire(snap item.Snapshot) *Op {
	return &Op{Kind: KindRetire, Retire: &RetireOp{Item: snap}}
}

// TargetID returns the id the operation applies to.
func (o *Op) TargetID() string {
	switch o.Kind {
	case KindAdd:
		return o.Add.Item.ID
	case KindUpdate:
		return o.Update.ID
	case KindRemove:
		return o.Remove.ID
	case KindRetire:
		return o.Retire.Item.ID
	}
	return ""
}

// Batch is an ordered sequence of operations. Applied in order to an empty
// mirror it reconstructs the emitting tree's state at flush time.
type Batch []*Op
