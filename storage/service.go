package storage

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/tether/rpc"
)

const (
	MethodGet    = "kv.get"
	MethodSet    = "kv.set"
	MethodDelete = "kv.delete"

	// MethodUpdated is the notice sent for every change: kv.updated(key, value),
	// with a nil value once a key is deleted
	MethodUpdated = "kv.updated"
)

// Service exposes a Store as kv.* methods.
type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{store: store, log: log}
}

// Register adds the kv.* methods to services.
func (s *Service) Register(services *rpc.Services) {
	services.Handle(MethodGet, s.get)
	services.Handle(MethodSet, s.set)
	services.Handle(MethodDelete, s.delete)
}

// kv.get(key) returns the value, or nil when the key is not set
func (s *Service) get(ctx context.Context, args ...interface{}) (interface{}, error) {
	key, err := rpc.StringArg(args, 0)
	if err != nil {
		return nil, err
	}

	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return gjson.ParseBytes(raw).Value(), nil
}

// kv.set(key, value) returns true
func (s *Service) set(ctx context.Context, args ...interface{}) (interface{}, error) {
	key, err := rpc.StringArg(args, 0)
	if err != nil {
		return nil, err
	}

	if len(args) < 2 {
		return nil, rpc.ErrBadArguments
	}

	if err := s.store.Set(ctx, key, args[1]); err != nil {
		return nil, err
	}

	return true, nil
}

// kv.delete(key) returns whether the key existed
func (s *Service) delete(ctx context.Context, args ...interface{}) (interface{}, error) {
	key, err := rpc.StringArg(args, 0)
	if err != nil {
		return nil, err
	}

	return s.store.Delete(ctx, key)
}

// Notifier sends a notice, such as server.Duplex.Broadcast.
type Notifier func(method string, args ...interface{}) error

// Publish sends a kv.updated notice for every update until updates closes.
func Publish(updates <-chan *Update, notify Notifier, log *zap.Logger) {
	for update := range updates {
		var value interface{}
		if !update.Deleted {
			value = gjson.ParseBytes(update.Value).Value()
		}

		if err := notify(MethodUpdated, update.Key, value); err != nil {
			log.Warn("Failed to publish update", zap.String("key", update.Key), zap.Error(err))
		}
	}
}
