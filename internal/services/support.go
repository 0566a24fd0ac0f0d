package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"navsync/internal/domain"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrUnavailable = errors.New("source unavailable")
)

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Code int
	URL  string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", err.URL, err.Code, http.StatusText(err.Code))
}

func (err *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return err.Code == http.StatusNotFound
	case ErrUnavailable:
		return err.Code >= http.StatusInternalServerError || err.Code == http.StatusTooManyRequests
	}
	return false
}

// Retryable reports whether a failed read is worth repeating.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return errors.Is(status, ErrUnavailable)
	}
	return true
}

// GroupSubscriber is implemented by push channels that scope events to the
// node the user is looking at.
type GroupSubscriber interface {
	Join(ctx context.Context, id domain.NodeID) error
	Leave(ctx context.Context, id domain.NodeID) error
}

// Watcher is implemented by sources that can report their own changes, such
// as a file on disk or a database channel.
type Watcher interface {
	Watch() PushChannel
}

type Closer interface {
	Close() error
}
