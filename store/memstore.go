package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// timestampMarker is the value ServerTimestamp returns; it is swapped for
// the store clock when the write commits.
type timestampMarker struct{}

type document struct {
	fields  map[string]any
	version uint64
}

// MemStore is the authoritative in-process document store. Every commit
// bumps the document version and pushes a snapshot to each per-document
// listener and each collection watcher, in commit order.
type MemStore struct {
	mu      sync.Mutex
	docs    map[string]*document
	subs    map[string]map[int]*memSub // path -> subID -> sub
	watches map[string]map[int]*memSub // collection -> subID -> sub
	nextSub int
	clock   func() time.Time
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:    make(map[string]*document),
		subs:    make(map[string]map[int]*memSub),
		watches: make(map[string]map[int]*memSub),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemStore) ServerTimestamp() any { return timestampMarker{} }

func (m *MemStore) Get(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(path), nil
}

func (m *MemStore) Set(_ context.Context, path string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	doc := m.docs[path]
	if doc == nil || !merge {
		doc = &document{fields: make(map[string]any)}
		if old := m.docs[path]; old != nil {
			doc.version = old.version
		}
		m.docs[path] = doc
	}
	now := m.clock()
	for k, v := range fields {
		if _, ok := v.(timestampMarker); ok {
			v = now
		}
		doc.fields[k] = copyValue(v)
	}
	m.commitLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	if _, ok := m.docs[path]; ok {
		delete(m.docs, path)
		m.notifyLocked(path, Snapshot{Path: path, Exists: false})
	}
	m.mu.Unlock()
	return nil
}

func (m *MemStore) UnionAppend(_ context.Context, path, field string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[path]
	if doc == nil {
		return StoreError("union append", fmt.Errorf("no document at %s", path))
	}
	arr, _ := doc.fields[field].([]string)
	for _, v := range values {
		if !containsString(arr, v) {
			arr = append(arr, v)
		}
	}
	doc.fields[field] = arr
	m.commitLocked(path)
	return nil
}

func (m *MemStore) ArrayRemove(_ context.Context, path, field string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[path]
	if doc == nil {
		return StoreError("array remove", fmt.Errorf("no document at %s", path))
	}
	arr, _ := doc.fields[field].([]string)
	kept := arr[:0:0]
	for _, v := range arr {
		if !containsString(values, v) {
			kept = append(kept, v)
		}
	}
	doc.fields[field] = kept
	m.commitLocked(path)
	return nil
}

func (m *MemStore) Query(_ context.Context, collection, field, equals string, limit int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, limit, func(d *document) bool {
		v, _ := d.fields[field].(string)
		return v == equals
	}), nil
}

func (m *MemStore) QueryContains(_ context.Context, collection, field, value string, limit int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, limit, func(d *document) bool {
		arr, _ := d.fields[field].([]string)
		return containsString(arr, value)
	}), nil
}

func (m *MemStore) List(_ context.Context, collection string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, 0, func(*document) bool { return true }), nil
}

// Subscribe registers a per-document listener. The current state (existing
// or not) is delivered immediately as the first snapshot.
func (m *MemStore) Subscribe(path string, fn SnapshotFunc) (Subscription, error) {
	m.mu.Lock()
	sub := m.newSubLocked(fn)
	sub.path = path
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]*memSub)
	}
	m.subs[path][sub.id] = sub
	sub.push(m.snapshotLocked(path))
	m.mu.Unlock()
	return sub, nil
}

// WatchCollection registers a listener over every document in a collection.
// Used by the snapshot bridge; only mutations are delivered, no initial
// replay.
func (m *MemStore) WatchCollection(collection string, fn SnapshotFunc) (Subscription, error) {
	m.mu.Lock()
	sub := m.newSubLocked(fn)
	sub.collection = collection
	if m.watches[collection] == nil {
		m.watches[collection] = make(map[int]*memSub)
	}
	m.watches[collection][sub.id] = sub
	m.mu.Unlock()
	return sub, nil
}

func (m *MemStore) queryLocked(collection string, limit int, match func(*document) bool) []Snapshot {
	var out []Snapshot
	for path, doc := range m.docs {
		if col, _ := splitPath(path); col != collection {
			continue
		}
		if !match(doc) {
			continue
		}
		out = append(out, m.snapshotLocked(path))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (m *MemStore) commitLocked(path string) {
	doc := m.docs[path]
	doc.version++
	m.notifyLocked(path, m.snapshotLocked(path))
}

func (m *MemStore) notifyLocked(path string, snap Snapshot) {
	for _, sub := range m.subs[path] {
		sub.push(snap)
	}
	col, _ := splitPath(path)
	for _, sub := range m.watches[col] {
		sub.push(snap)
	}
}

func (m *MemStore) snapshotLocked(path string) Snapshot {
	doc := m.docs[path]
	if doc == nil {
		return Snapshot{Path: path, Exists: false}
	}
	fields := make(map[string]any, len(doc.fields))
	for k, v := range doc.fields {
		fields[k] = copyValue(v)
	}
	return Snapshot{Path: path, Exists: true, Version: doc.version, Fields: fields}
}

func (m *MemStore) newSubLocked(fn SnapshotFunc) *memSub {
	m.nextSub++
	sub := &memSub{id: m.nextSub, store: m, fn: fn}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.run()
	return sub
}

func (m *MemStore) dropSub(sub *memSub) {
	m.mu.Lock()
	if sub.path != "" {
		delete(m.subs[sub.path], sub.id)
	}
	if sub.collection != "" {
		delete(m.watches[sub.collection], sub.id)
	}
	m.mu.Unlock()
}

// memSub pumps queued snapshots to its callback on a dedicated goroutine,
// preserving commit order. Unsubscribe waits out any in-flight delivery, so
// once it returns no further callback runs. Callbacks must not unsubscribe
// their own subscription.
type memSub struct {
	id         int
	store      *MemStore
	path       string
	collection string
	fn         SnapshotFunc

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Snapshot
	closed     bool
	delivering bool
}

func (s *memSub) push(snap Snapshot) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, snap)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *memSub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.delivering = true
		s.mu.Unlock()

		s.fn(snap)

		s.mu.Lock()
		s.delivering = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *memSub) Unsubscribe() {
	s.store.dropSub(s)
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	for s.delivering {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func copyValue(v any) any {
	switch arr := v.(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out
	case []any:
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

func containsString(arr []string, v string) bool {
	for _, e := range arr {
		if e == v {
			return true
		}
	}
	return false
}
