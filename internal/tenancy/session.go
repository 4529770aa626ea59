package tenancy

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tenantgate.io/internal/obs"
)

// SettingName is the session variable read by row-level security policies.
const SettingName = "app.tenant_id"

const setTenantSQL = `select set_config('app.tenant_id', $1, false)`

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner is a DBTX that can open transactions (*sql.DB, *sql.Conn).
type Beginner interface {
	DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Manager checks out dedicated connections for per-request sessions.
type Manager struct {
	db *sql.DB
}

// NewManager constructs a Manager over the shared pool.
func NewManager(db *sql.DB) (*Manager, error) {
	if db == nil {
		return nil, errors.New("tenancy: database is required")
	}
	return &Manager{db: db}, nil
}

// Acquire checks out one connection from the pool. The caller owns the session
// until Release and must not share it between goroutines.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenancy: acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Session binds a tenant id to one database connection.
type Session struct {
	conn     *sql.Conn
	current  string
	released bool
}

// Conn returns the connection queries must run on to observe the tenant setting.
func (s *Session) Conn() *sql.Conn {
	return s.conn
}

// Current returns the tenant id last set through this session ("" when cleared).
// It does not read the database.
func (s *Session) Current() string {
	return s.current
}

// Set establishes tenantID as the active tenant; an empty id clears it. On error
// the recorded tenant is left unchanged.
func (s *Session) Set(ctx context.Context, tenantID string) error {
	if s.released {
		return errors.New("tenancy: session already released")
	}
	tenantID = strings.TrimSpace(tenantID)
	if _, err := s.conn.ExecContext(ctx, setTenantSQL, tenantID); err != nil {
		return fmt.Errorf("tenancy: set %s: %w", SettingName, err)
	}
	s.current = tenantID
	return nil
}

// Scoped runs fn with tenantID active and restores the previous tenant afterwards,
// whether fn returns normally, fails or panics. A restore failure is joined with
// fn's error.
func (s *Session) Scoped(ctx context.Context, tenantID string, fn func(ctx context.Context) error) (err error) {
	previous := s.current
	if err := s.Set(ctx, tenantID); err != nil {
		return err
	}
	defer func() {
		restoreErr := s.Set(context.WithoutCancel(ctx), previous)
		if r := recover(); r != nil {
			if restoreErr != nil {
				obs.Logger().Error("tenant context restore failed during panic", zap.Error(restoreErr))
			}
			panic(r)
		}
		if restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
	}()
	return fn(ctx)
}

// Release clears the tenant setting and returns the connection to the pool. If the
// setting cannot be cleared the connection is discarded instead of reused.
func (s *Session) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true
	_, clearErr := s.conn.ExecContext(context.WithoutCancel(ctx), setTenantSQL, "")
	if clearErr != nil {
		obs.Logger().Warn("discarding connection with unclear tenant context",
			zap.String("tenant_id", s.current), zap.Error(clearErr))
		_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	s.current = ""
	closeErr := s.conn.Close()
	if clearErr != nil {
		return fmt.Errorf("tenancy: clear %s: %w", SettingName, clearErr)
	}
	return closeErr
}
