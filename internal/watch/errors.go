package watch

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded      = errors.New("processed events not loaded")
	ErrDestroyed      = errors.New("poller destroyed")
	ErrNotRunning     = errors.New("poller not running")
	ErrAlreadyTracked = errors.New("already tracked")
	ErrNotTracked     = errors.New("not tracked")
	ErrInvalidName    = errors.New("invalid name")
	ErrUnresolved     = errors.New("no upstream repository found")
	ErrClosed         = errors.New("registry closed")
)

// RenderError means an item could not be turned into a message. The item
// is skipped and left unprocessed.
type RenderError struct {
	Kind EventKind
	Key  string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s %s: %v", e.Kind, e.Key, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// DeliveryError means the notifier refused a rendered item. The item stays
// processed.
type DeliveryError struct {
	Key string
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("deliver %s: %v", e.Key, e.Err) }

func (e *DeliveryError) Unwrap() error { return e.Err }
