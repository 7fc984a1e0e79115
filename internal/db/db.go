package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// Querier is what the query functions in models run against: either the
// pool or an open transaction. Queries are written with "?" placeholders and
// rebound for the active dialect.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
}

type DB struct {
	sql     *sql.DB
	dialect Dialect
}

// DialectFor picks the driver from the DSN: postgres URLs go to pgx,
// everything else is treated as a SQLite file path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open connects and applies the embedded schema.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	source := dsn
	if dialect == SQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
		source = sqliteSource(dsn)
	}
	conn, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// one writer at a time keeps SQLITE_BUSY away
		conn.SetMaxOpenConns(1)
	}
	db := &DB{sql: conn, dialect: dialect}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func sqliteSource(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) Close() error { return db.sql.Close() }

func (db *DB) PingContext(ctx context.Context) error { return db.sql.PingContext(ctx) }

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.sql.ExecContext(ctx, rebind(db.dialect, query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.sql.QueryContext(ctx, rebind(db.dialect, query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.sql.QueryRowContext(ctx, rebind(db.dialect, query), args...)
}

// Tx is a transaction that rebinds like DB.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (tx *Tx) Dialect() Dialect { return tx.dialect }

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.tx.ExecContext(ctx, rebind(tx.dialect, query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.tx.QueryContext(ctx, rebind(tx.dialect, query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(ctx, rebind(tx.dialect, query), args...)
}

// WithTx runs fn in a transaction, committing when it returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &Tx{tx: sqlTx, dialect: db.dialect}
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// rebind rewrites "?" placeholders to "$n" for postgres. Question marks
// inside single-quoted literals are left alone.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (db *DB) migrate(ctx context.Context) error {
	name := "schema_sqlite.sql"
	if db.dialect == Postgres {
		name = "schema_postgres.sql"
	}
	sqlBytes, err := fs.ReadFile(schemaFS, name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(sqlBytes), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}
