package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/notify"
	"tenantgate.io/internal/tenancy"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDB = errors.New("database connection unavailable")

var (
	_ auth.Store   = (*Store)(nil)
	_ notify.Store = (*Store)(nil)
)

// Store implements the auth and notify persistence contracts on Postgres.
// Queries run on the tenant session carried by ctx when present, so row-level
// security sees the request's tenant; a Store returned to an InTx callback is
// bound to that transaction instead.
type Store struct {
	db *sql.DB
	tx *sql.Tx
}

// PoolConfig tunes the shared connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func (s *Store) conn(ctx context.Context) (tenancy.DBTX, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.db == nil {
		return nil, errNoDB
	}
	return tenancy.Executor(ctx, s.db), nil
}

// InTx runs fn in one transaction. Calls made while already bound join the
// outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(auth.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if s.db == nil {
		return errNoDB
	}
	tx, err := tenancy.Executor(ctx, s.db).BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// mapError converts constraint violations to domain errors.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s not found", auth.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s already exists", auth.ErrConflict, what)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing or in-use record", auth.ErrConflict, what)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func requireAffected(res sql.Result, what string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: %s not found", auth.ErrNotFound, what)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// setClause accumulates "col = $n" fragments for partial updates.
type setClause struct {
	parts []string
	args  []any
}

func (c *setClause) add(column string, value any) {
	c.args = append(c.args, value)
	c.parts = append(c.parts, fmt.Sprintf("%s = $%d", column, len(c.args)))
}

func (c *setClause) empty() bool { return len(c.parts) == 0 }

// build returns "update <table> set ..., updated_at = now() where id = $n".
func (c *setClause) build(table, id string) (string, []any) {
	args := append(c.args, id)
	return fmt.Sprintf("update %s set %s, updated_at = now() where id = $%d",
		table, strings.Join(c.parts, ", "), len(args)), args
}
