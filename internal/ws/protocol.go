package ws

import (
	"github.com/testview/backend/internal/diff"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// TreeSnapshot is one tree replayed from empty as a batch of Add ops.
type TreeSnapshot struct {
	TreeID int        `json:"treeId"`
	Ops    diff.Batch `json:"ops"`
}

type SnapshotPayload struct {
	Trees []TreeSnapshot `json:"trees"`
}

// DeltaPayload carries one flushed diff batch for one tree, in emission
// order. Batches are delivered at most once each.
type DeltaPayload struct {
	TreeID int        `json:"treeId"`
	Ops    diff.Batch `json:"ops"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
