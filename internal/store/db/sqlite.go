package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/version"
)

type DB struct {
	*sql.DB
	dsn string
}

// Ensure DB implements the key-value port.
var _ store.KV = (*DB)(nil)

func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("Database URL is required")
	}

	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" opens a fresh database.
	if strings.Contains(dsn, ":memory:") {
		d.SetMaxOpenConns(1)
	}
	if _, err := d.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	return &DB{DB: d, dsn: dsn}, nil
}

func (d *DB) Close() error {
	return d.DB.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

//go:embed migration
var migrationFS embed.FS

const latestSchemaFileName = "LATEST_SCHEMA.sql"

// Migrate applies the latest schema to a fresh database, or the pending minor
// version migrations to an existing one.
func (d *DB) Migrate(ctx context.Context) error {
	currentVersion := version.GetCurrentVersion()
	exist, err := d.tableExists(ctx, "migration_history")
	if err != nil {
		return errors.Wrap(err, "failed to check database table")
	}
	if !exist {
		if err := d.applyLatestSchema(ctx); err != nil {
			return errors.Wrap(err, "failed to apply latest schema")
		}
		if err := d.recordSchemaVersion(ctx, currentVersion); err != nil {
			return err
		}
		log.Debug("Applied latest schema", zap.String("version", currentVersion))
		return nil
	}

	applied, err := d.SchemaVersions(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		minorVersion := version.GetMinorVersion(currentVersion)
		if err := d.applyMigrationForMinorVersion(ctx, minorVersion); err != nil {
			return errors.Wrapf(err, "failed to apply version %s migration", minorVersion)
		}
		return nil
	}

	latest := applied[len(applied)-1].Version
	if !version.IsVersionGreaterThan(currentVersion, latest) {
		return nil
	}

	log.Info("Start migration", zap.String("from", latest), zap.String("to", currentVersion))
	for _, minorVersion := range getMinorVersionList() {
		// Patch releases never change the schema.
		normalized := minorVersion + ".0"
		if version.IsVersionGreaterThan(normalized, latest) && version.IsVersionGreaterOrEqualThan(currentVersion, normalized) {
			log.Info("Applying migration", zap.String("version", normalized))
			if err := d.applyMigrationForMinorVersion(ctx, minorVersion); err != nil {
				return errors.Wrap(err, "failed to apply minor version migration")
			}
		}
	}
	return nil
}

func (d *DB) applyLatestSchema(ctx context.Context) error {
	latestSchemaPath := fmt.Sprintf("migration/%s", latestSchemaFileName)
	buf, err := migrationFS.ReadFile(latestSchemaPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file: %q", latestSchemaPath)
	}

	stmt := string(buf)
	if err := d.execute(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to apply latest schema: %s", stmt)
	}
	return nil
}

func (d *DB) applyMigrationForMinorVersion(ctx context.Context, minorVersion string) error {
	filenames, err := fs.Glob(migrationFS, fmt.Sprintf("migration/%s/*.sql", minorVersion))
	if err != nil {
		return errors.Wrapf(err, "failed to find migration files for version %s", minorVersion)
	}

	// 00001__kv.sql, 00002__example.sql, ...
	slices.Sort(filenames)
	for _, filename := range filenames {
		buf, err := migrationFS.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %q", filename)
		}
		if err := d.execute(ctx, string(buf)); err != nil {
			return errors.Wrapf(err, "failed to apply migration: %q", filename)
		}
	}

	return d.recordSchemaVersion(ctx, minorVersion+".0")
}

// execute runs a single SQL statement within a transaction.
func (d *DB) execute(ctx context.Context, stmt string) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to execute statement")
	}

	return tx.Commit()
}

// minorDirRegexp is a regular expression for minor version directory.
var minorDirRegexp = regexp.MustCompile(`^migration/[0-9]+\.[0-9]+$`)

func getMinorVersionList() []string {
	minorVersionList := []string{}

	if err := fs.WalkDir(migrationFS, "migration", func(path string, file fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if file.IsDir() && minorDirRegexp.MatchString(path) {
			minorVersionList = append(minorVersionList, file.Name())
		}
		return nil
	}); err != nil {
		panic(err)
	}

	slices.SortFunc(minorVersionList, func(a, b string) int {
		return version.Compare(a+".0", b+".0")
	})
	return minorVersionList
}
