// Package sqlite is the one concrete repository implementation named by
// §9 ("the reference implementation can use an embedded SQL store with
// WAL"). Connection setup and the STRICT-table, strftime-default
// migration style follow the same WAL-mode-open, panic-on-bad-migration
// conventions used across this module's other storage-backed packages.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps *sql.DB with the §5 write-semaphore policy: concurrent reads
// are allowed through the pool, but writes are serialized one at a time
// to match SQLite's single-writer WAL behavior, even though the pool
// itself allows up to poolSize connections.
type DB struct {
	sql       *sql.DB
	writeSema chan struct{}
}

const defaultPoolSize = 5

// Open opens (or creates) a SQLite database at path in WAL mode with a
// connection pool of defaultPoolSize and a write semaphore of capacity 1,
// so reads run concurrently while writes are serialized.
func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(defaultPoolSize)
	// The pool itself allows up to defaultPoolSize concurrent reads; the
	// write semaphore's capacity of 1 is what actually serializes writes
	// against SQLite's single-writer WAL mode.
	return &DB{sql: d, writeSema: make(chan struct{}, 1)}, nil
}

// withWrite serializes f against every other writer sharing this DB,
// matching SQLite's single-writer discipline while still letting reads
// proceed through the pool unimpeded.
func (d *DB) withWrite(ctx context.Context, f func() error) error {
	select {
	case d.writeSema <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.writeSema }()
	return f()
}

func (d *DB) MustMigrate(migration string) {
	if _, err := d.sql.Exec(migration); err != nil {
		panic(fmt.Errorf("error while migrating database: %s", err))
	}
}

// AutoMigrate applies this package's built-in schema, for callers outside
// the package that don't have access to the unexported migration string
// (everything except tests within package sqlite itself).
func (d *DB) AutoMigrate() {
	d.MustMigrate(migration)
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// Healthy reports whether the database can still accept a transaction:
// begin a no-op transaction and roll it back, rather than just pinging
// the connection, since a ping can succeed against a pool member while
// the database file itself is wedged (locked, out of disk, corrupted).
func (d *DB) Healthy(ctx context.Context) error {
	txn, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	return txn.Rollback()
}
