package ui

import (
	"time"

	"navsync/internal/domain"
)

// ChangedMsg tells the model the navigator view changed. The app forwards
// navigator change callbacks as this message.
type ChangedMsg struct{}

type tickMsg time.Time

type toggleResultMsg struct {
	id  domain.NodeID
	err error
}

type refreshResultMsg struct {
	err error
}
