package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. State is lost when the process exits.
type Memory struct {
	mu        sync.Mutex
	closed    bool
	processed map[string][]string
	versions  map[string]string
	tracked   []TrackedRecord
	audit     []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{processed: map[string][]string{}, versions: map[string]string{}}
}

func (m *Memory) LoadProcessed(ctx context.Context, resource string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]string(nil), m.processed[resource]...), nil
}

func (m *Memory) AppendProcessed(ctx context.Context, resource string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.processed[resource] = append(m.processed[resource], trimKeys(keys)...)
	return nil
}

func (m *Memory) SaveProcessed(ctx context.Context, resource string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.processed[resource] = trimKeys(keys)
	return nil
}

func (m *Memory) PurgeProcessed(ctx context.Context, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.processed, resource)
	return nil
}

func (m *Memory) GetVersionMark(ctx context.Context, pkg string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	tag, ok := m.versions[pkg]
	return tag, ok, nil
}

func (m *Memory) PutVersionMark(ctx context.Context, pkg, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.versions[pkg] = tag
	return nil
}

func (m *Memory) DeleteVersionMark(ctx context.Context, pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.versions, pkg)
	return nil
}

func (m *Memory) LoadTracked(ctx context.Context) ([]TrackedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]TrackedRecord(nil), m.tracked...), nil
}

func (m *Memory) PutTracked(ctx context.Context, r TrackedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := range m.tracked {
		if m.tracked[i].Kind == r.Kind && m.tracked[i].Name == r.Name {
			m.tracked[i] = r
			return nil
		}
	}
	m.tracked = append(m.tracked, r)
	return nil
}

func (m *Memory) DeleteTracked(ctx context.Context, kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	out := m.tracked[:0]
	for _, r := range m.tracked {
		if r.Kind != kind || r.Name != name {
			out = append(out, r)
		}
	}
	m.tracked = out
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
