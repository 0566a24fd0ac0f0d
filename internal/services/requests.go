package services

import "navsync/internal/domain"

type pushMessageType string

const (
	messageSubscribe pushMessageType = "subscribe"
	messageJoin      pushMessageType = "join"
	messageLeave     pushMessageType = "leave"
	messageNode      pushMessageType = "node"
)

// pushMessage is the envelope exchanged on the push socket in both
// directions.
type pushMessage struct {
	Type   pushMessageType    `json:"type"`
	Client string             `json:"client,omitempty"`
	NodeID domain.NodeID      `json:"nodeId,omitempty"`
	Node   *domain.NodeRecord `json:"node,omitempty"`
}
