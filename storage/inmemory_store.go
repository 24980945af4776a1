package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const UpdateBufferSize = 255

type InmemoryStore struct {
	mu          sync.Mutex
	values      []byte
	updateChans []chan *Update

	// dropped counts updates a full listener missed
	dropped uint64

	// stop will be closed when Close() is called
	stop chan struct{}

	log *zap.Logger
}

func NewInmemoryStore(log *zap.Logger) *InmemoryStore {
	if log == nil {
		log = zap.NewNop()
	}

	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
		log:         log,
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}
	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key string, value interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return ErrClosed
	}

	values, err := sjson.SetBytes(i.values, key, value)
	if err != nil {
		return fmt.Errorf("Failed to set %q: %w", key, err)
	}
	i.values = values

	i.publish(&Update{
		Key:   key,
		Value: []byte(gjson.GetBytes(i.values, key).Raw),
	})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result := gjson.GetBytes(i.values, key)
	if !result.Exists() {
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}

	// Raw aliases i.values, which the next Set replaces
	return []byte(result.Raw), nil
}

// Delete removes key, reporting whether it was there.
func (i *InmemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return false, ErrClosed
	}

	if !gjson.GetBytes(i.values, key).Exists() {
		return false, nil
	}

	values, err := sjson.DeleteBytes(i.values, key)
	if err != nil {
		return false, fmt.Errorf("Failed to delete %q: %w", key, err)
	}
	i.values = values

	i.publish(&Update{Key: key, Deleted: true})

	return true, nil
}

// publish must be called with mu held. A listener whose buffer is full misses
// the update, writers never wait on readers.
func (i *InmemoryStore) publish(update *Update) {
	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:

		default:
			atomic.AddUint64(&i.dropped, 1)
			i.log.Warn("Update listener is full, dropping update", zap.String("key", update.Key))
		}
	}
}

// DroppedUpdates returns how many updates listeners have missed because their
// buffer was full.
func (i *InmemoryStore) DroppedUpdates() uint64 {
	return atomic.LoadUint64(&i.dropped)
}

// ListenToUpdates returns a channel receiving every subsequent change. It is
// closed when the store closes.
func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Restore replaces the whole document.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return ErrInvalidJSON
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
