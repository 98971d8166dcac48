package db

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/Xunop/celestial/internal/version"
)

// SchemaVersion is one applied entry of migration_history.
type SchemaVersion struct {
	Version   string
	AppliedAt time.Time
}

// recordSchemaVersion marks v as applied. Recording a version twice keeps the first time.
func (d *DB) recordSchemaVersion(ctx context.Context, v string) error {
	stmt := `INSERT INTO migration_history (version) VALUES (?) ON CONFLICT(version) DO NOTHING`
	if _, err := d.DB.ExecContext(ctx, stmt, v); err != nil {
		return errors.Wrapf(err, "failed to record schema version %s", v)
	}
	return nil
}

// SchemaVersions returns the applied versions, oldest version first.
func (d *DB) SchemaVersions(ctx context.Context) ([]SchemaVersion, error) {
	rows, err := d.DB.QueryContext(ctx, "SELECT `version`, `created_ts` FROM `migration_history`")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration history")
	}
	defer rows.Close()

	var list []SchemaVersion
	for rows.Next() {
		var (
			v  string
			ts int64
		)
		if err := rows.Scan(&v, &ts); err != nil {
			return nil, err
		}
		list = append(list, SchemaVersion{Version: v, AppliedAt: time.Unix(ts, 0).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(list, func(a, b SchemaVersion) int { return version.Compare(a.Version, b.Version) })
	return list, nil
}

func (d *DB) tableExists(ctx context.Context, tableName string) (bool, error) {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
	var name string
	if err := d.DB.QueryRowContext(ctx, query, tableName).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
