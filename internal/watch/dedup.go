package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ghwatch/internal/storage"
)

// Dedup is the processed-event set of one resource, mirrored to storage.
type Dedup struct {
	store    storage.Store
	resource string

	mu     sync.RWMutex
	set    map[string]struct{}
	loaded bool
}

func NewDedup(store storage.Store, resource string) *Dedup {
	return &Dedup{store: store, resource: resource, set: map[string]struct{}{}}
}

// Every method that touches storage holds mu for the whole call, so a
// Flush or Purge never overwrites a key that a concurrent Add persisted.

// Load replaces the in-memory set with the persisted one.
func (d *Dedup) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, err := d.store.LoadProcessed(ctx, d.resource)
	if err != nil {
		return fmt.Errorf("load processed %s: %w", d.resource, err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	d.set = set
	d.loaded = true
	return nil
}

func (d *Dedup) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

func (d *Dedup) Contains(key string) bool {
	d.mu.RLock()
	_, ok := d.set[key]
	d.mu.RUnlock()
	return ok
}

func (d *Dedup) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.set)
}

// Add records key in memory first and then appends it to storage. A
// storage error is returned but the key stays in the set, so the item is
// still not repeated while the process lives.
func (d *Dedup) Add(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.set[key]; ok {
		return nil
	}
	d.set[key] = struct{}{}
	if err := d.store.AppendProcessed(ctx, d.resource, key); err != nil {
		return fmt.Errorf("append processed %s: %w", d.resource, err)
	}
	return nil
}

// Flush rewrites the persisted record from memory.
func (d *Dedup) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil
	}
	keys := make([]string, 0, len(d.set))
	for k := range d.set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := d.store.SaveProcessed(ctx, d.resource, keys); err != nil {
		return fmt.Errorf("save processed %s: %w", d.resource, err)
	}
	return nil
}

// Purge drops the set and its persisted record.
func (d *Dedup) Purge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set = map[string]struct{}{}
	d.loaded = false
	if err := d.store.PurgeProcessed(ctx, d.resource); err != nil {
		return fmt.Errorf("purge processed %s: %w", d.resource, err)
	}
	return nil
}
