package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
type Config struct {
	Driver string
	// Path is the data directory for "file" and the database file for "sqlite".
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the watcher and command layers.
type Store interface {
	// LoadProcessed returns every processed-event key recorded for resource.
	LoadProcessed(ctx context.Context, resource string) ([]string, error)
	// AppendProcessed durably adds keys for resource.
	AppendProcessed(ctx context.Context, resource string, keys ...string) error
	// SaveProcessed replaces the full key set for resource.
	SaveProcessed(ctx context.Context, resource string, keys []string) error
	// PurgeProcessed deletes the durable record for resource.
	PurgeProcessed(ctx context.Context, resource string) error

	GetVersionMark(ctx context.Context, pkg string) (tag string, ok bool, err error)
	PutVersionMark(ctx context.Context, pkg, tag string) error
	DeleteVersionMark(ctx context.Context, pkg string) error

	LoadTracked(ctx context.Context) ([]TrackedRecord, error)
	PutTracked(ctx context.Context, r TrackedRecord) error
	DeleteTracked(ctx context.Context, kind, name string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// TrackedRecord is the persisted form of a tracked resource.
type TrackedRecord struct {
	Kind     string    `json:"kind" db:"kind"`
	Name     string    `json:"name" db:"name"`
	Upstream string    `json:"upstream,omitempty" db:"upstream"`
	ChatID   int64     `json:"chat_id" db:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty" db:"thread_id"`
	AddedBy  string    `json:"added_by,omitempty" db:"added_by"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id,omitempty"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms,omitempty"`
}
