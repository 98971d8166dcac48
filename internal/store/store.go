package store // import "github.com/Xunop/celestial/internal/store"

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// KV is the key-value port every persistent component writes through.
// Writes are atomic per key: concurrent writers of one key are last-writer-wins.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.kv.Get(ctx, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.kv.Set(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.kv.Delete(ctx, keys...)
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.kv.Keys(ctx, prefix)
}

// GetJSON decodes the value stored at key into v. It reports false when the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "failed to decode %q", key)
	}
	return true, nil
}

func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %q", key)
	}
	return s.kv.Set(ctx, key, raw)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Store) Close() error {
	return s.kv.Close()
}
