package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStore is the generic failure any store operation can surface.
var ErrStore = errors.New("store failure")

// StoreError wraps an underlying cause as an ErrStore.
func StoreError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, cause)
}

// Snapshot is one observed state of a document. Field values are deep
// copies and never alias live store data.
type Snapshot struct {
	Path    string
	Exists  bool
	Version uint64
	Fields  map[string]any
}

// String reads a string field, empty if absent or mistyped.
func (s Snapshot) String(field string) string {
	v, _ := s.Fields[field].(string)
	return v
}

// Strings reads a string-array field, nil if absent or mistyped.
func (s Snapshot) Strings(field string) []string {
	v, _ := s.Fields[field].([]string)
	return v
}

// Bool reads a boolean field, false if absent or mistyped.
func (s Snapshot) Bool(field string) bool {
	v, _ := s.Fields[field].(bool)
	return v
}

// Int reads an integer field, zero if absent or mistyped.
func (s Snapshot) Int(field string) int {
	switch v := s.Fields[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Time reads a timestamp field, zero time if absent or mistyped.
func (s Snapshot) Time(field string) time.Time {
	v, _ := s.Fields[field].(time.Time)
	return v
}

// SnapshotFunc receives pushed document snapshots. Callbacks run one at a
// time per subscription, in commit order, and must not block.
type SnapshotFunc func(Snapshot)

// Subscription is a live listener handle. Once Unsubscribe returns, no
// further snapshots are delivered.
type Subscription interface {
	Unsubscribe()
}

// Store is the document store the coordination core runs against.
// Multi-writer, but each subscriber observes a single document's updates
// in monotonically advancing version order. UnionAppend and ArrayRemove
// commute under concurrent writers where a read-modify-write would lose
// updates.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set writes fields at path. With merge, untouched fields survive;
	// without, the document is replaced wholesale.
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, path string) error
	Subscribe(path string, fn SnapshotFunc) (Subscription, error)
	// Query returns documents in collection whose field equals the given
	// string. limit <= 0 means unbounded.
	Query(ctx context.Context, collection, field, equals string, limit int) ([]Snapshot, error)
	// QueryContains returns documents whose string-array field contains
	// the given value.
	QueryContains(ctx context.Context, collection, field, value string, limit int) ([]Snapshot, error)
	// List returns every document in a collection.
	List(ctx context.Context, collection string) ([]Snapshot, error)
	UnionAppend(ctx context.Context, path, field string, values ...string) error
	ArrayRemove(ctx context.Context, path, field string, values ...string) error
	// ServerTimestamp returns a marker resolved to the store's clock at
	// commit time.
	ServerTimestamp() any
}

func splitPath(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
