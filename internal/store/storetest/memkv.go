// Package storetest provides an in-memory key-value backend for tests.
package storetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrInjected = errors.New("injected failure")

type MemKV struct {
	mu sync.Mutex
	m  map[string][]byte

	// FailSet makes every Set return ErrInjected.
	FailSet bool
	// FailGet makes every Get return ErrInjected.
	FailGet bool
}

func New() *MemKV {
	return &MemKV{m: map[string][]byte{}}
}

func (k *MemKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.FailGet {
		return nil, false, ErrInjected
	}
	v, ok := k.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (k *MemKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.FailSet {
		return ErrInjected
	}
	k.m[key] = append([]byte(nil), value...)
	return nil
}

func (k *MemKV) Delete(_ context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.m, key)
	}
	return nil
}

func (k *MemKV) Keys(_ context.Context, prefix string) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := []string{}
	for key := range k.m {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored keys.
func (k *MemKV) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

func (k *MemKV) Ping(context.Context) error { return nil }
func (k *MemKV) Close() error               { return nil }
