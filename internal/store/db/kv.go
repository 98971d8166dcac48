package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	if err := d.DB.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "failed to get %q", key)
	}
	return value, true, nil
}

func (d *DB) Set(ctx context.Context, key string, value []byte) error {
	stmt := `
		INSERT INTO kv (key, value, updated_ts)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE
		SET
			value=EXCLUDED.value,
			updated_ts=EXCLUDED.updated_ts
	`
	if value == nil {
		value = []byte{}
	}
	if _, err := d.DB.ExecContext(ctx, stmt, key, value); err != nil {
		return errors.Wrapf(err, "failed to set %q", key)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := d.DB.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return errors.Wrap(err, "failed to delete keys")
	}
	return nil
}

// Keys matches prefixes with substr instead of LIKE so that '_' and '%' in keys stay literal.
func (d *DB) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key", prefix, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list keys with prefix %q", prefix)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
