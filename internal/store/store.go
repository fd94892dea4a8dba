package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting applied at open and the value SQLite
// reports for it afterwards.
type pragma struct {
	name, value, reported string
}

var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// migrations upgrade databases created by older versions. Entry i moves
// user_version from i to i+1.
var migrations = []func(*sql.DB) error{
	migrateTargetIndex,
}

// currentSchemaVersion is the user_version of an up-to-date database.
var currentSchemaVersion = len(migrations)

// Store persists resources and their relationship linkage in SQLite.
// Writes go through a single connection; RunInTransaction gives each batch
// its own transaction on it.
type Store struct {
	db *sql.DB
}

// querier is the subset of *sql.DB and *sql.Tx used by repository code.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Open creates or opens the database at path (":memory:" for a private
// in-memory database), applies the pragmas, creates the tables and runs
// pending migrations. Opening an up-to-date database changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %s: %w", p.name, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{db: db}
	if err := s.verifyPragmas(isMemoryPath(path)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify pragmas: %w", err)
	}
	return s, nil
}

// Close closes the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store is closed")
	}
	return s.db.PingContext(ctx)
}

// RunInTransaction runs work inside one database transaction.
//
// The transaction travels in the context passed to work. It commits when
// work returns nil and rolls back when work returns an error or panics.
// A context that already carries a transaction joins it.
func (s *Store) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return work(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := work(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// conn returns the transaction carried by ctx, or the database.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// migrate runs the migrations the database has not seen yet and records
// the new user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", i+1, err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateTargetIndex adds the index on relationship targets used when a
// deleted resource's inbound linkage is removed.
func migrateTargetIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_relationships_target
		ON relationships(target_type, target_id)
	`)
	return err
}

// verifyPragmas checks every pragma reports its configured value. An
// in-memory database keeps journal_mode=memory.
func (s *Store) verifyPragmas(inMemory bool) error {
	var errs []error
	for _, p := range pragmas {
		var value string
		if err := s.db.QueryRow("PRAGMA " + p.name).Scan(&value); err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", p.name, err))
			continue
		}
		if inMemory && p.name == "journal_mode" && value == "memory" {
			continue
		}
		if value != p.reported {
			errs = append(errs, fmt.Errorf("%s = %q, expected %q", p.name, value, p.reported))
		}
	}
	return errors.Join(errs...)
}

// isMemoryPath reports whether path names an in-memory database.
func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
