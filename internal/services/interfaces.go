package services

import (
	"context"

	"navsync/internal/domain"
)

// Source answers the two authoritative reads: the top-level listing and the
// direct children of one node.
type Source interface {
	TopLevel(ctx context.Context) ([]domain.NodeRecord, error)
	Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error)
}

// PushChannel delivers node-changed events. Listen blocks until ctx is done
// or the connection is lost; the caller owns reconnecting.
type PushChannel interface {
	Listen(ctx context.Context, events chan<- PushEvent) error
}
