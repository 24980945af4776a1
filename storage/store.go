package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("Key not found")
	ErrInvalidJSON = errors.New("Invalid JSON document")
	ErrClosed      = errors.New("Store closed")
)

// Update describes a change to one key. Value is the raw JSON of the new
// value, nil when the key was deleted.
type Update struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Store is a JSON document addressed by gjson/sjson paths.
type Store interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
