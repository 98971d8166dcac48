package redis

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	lowimpl "github.com/redis/go-redis/v9"

	"github.com/Xunop/celestial/internal/store"
)

const scanBatchSize = 256

type Client struct {
	internal *lowimpl.Client
}

// Ensure Client implements the key-value port.
var _ store.KV = (*Client)(nil)

func NewClient(addr, password string, db int) *Client {
	return &Client{
		internal: lowimpl.NewClient(&lowimpl.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.internal.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.internal == nil {
		return nil
	}
	return c.internal.Close()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.internal.Get(ctx, key).Bytes()
	if errors.Is(err, lowimpl.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get %q", key)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if err := c.internal.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to set %q", key)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.internal.Del(ctx, keys...).Err()
}

func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	pattern := escapePattern(prefix) + "*"
	for {
		batch, next, err := c.internal.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan keys with prefix %q", prefix)
		}
		keys = append(keys, batch...)
		// Redis returns a zero cursor when the scan is complete.
		if next == 0 {
			break
		}
		cursor = next
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out, nil
}

func escapePattern(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			buf = append(buf, '\\')
		}
		buf = append(buf, s[i])
	}
	return string(buf)
}
