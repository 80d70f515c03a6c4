// Package storage persists the platform's objects. Objects are opaque
// JSON documents keyed by kind and id, so every backend is a flat
// key-value store and the object schema lives with the types.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the given key.
// Callers translate it to their own error codes at the boundary.
var ErrNotFound = errors.New("object not found")

// Storable is anything that can be persisted. Kind partitions the
// keyspace per type, StorageID identifies the object within its kind.
type Storable interface {
	Kind() string
	StorageID() string
}

// Storage is the persistence contract shared by all backends. Save
// upserts. Get decodes into dst, which determines kind and id.
type Storage interface {
	Save(ctx context.Context, obj Storable) error
	Get(ctx context.Context, dst Storable) error
	Delete(ctx context.Context, obj Storable) error
	List(ctx context.Context, kind string) ([][]byte, error)
	Clear(ctx context.Context) error
}

func storageKey(obj Storable) string {
	return obj.Kind() + "_" + obj.StorageID()
}
