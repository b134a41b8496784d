package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxorio/todosync/pkg/observability/prometheus"
)

// Supported driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// PoolConfig is the storage section of todosyncd's config.
type PoolConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	DriverName      string        `yaml:"driver" json:"driver"` // postgres or sqlite3
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig sizes the pool for driverName
func DefaultPoolConfig(dsn string, driverName string) PoolConfig {
	if driverName == DriverSQLite {
		// sqlite has a single writer; more connections only produce SQLITE_BUSY
		return PoolConfig{DSN: dsn, DriverName: driverName, MaxOpenConns: 1, MaxIdleConns: 1}
	}
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// validate reports the first problem with c, naming the config key
func (c PoolConfig) validate() error {
	rules := []struct {
		bad bool
		msg string
	}{
		{c.DSN == "", "storage.dsn is required"},
		{c.DriverName != DriverPostgres && c.DriverName != DriverSQLite, "storage.driver must be postgres or sqlite3"},
		{c.MaxOpenConns <= 0, "storage.max_open_conns must be positive"},
		{c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns, "storage.max_idle_conns must be between 0 and max_open_conns"},
		{c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0, "storage connection lifetimes cannot be negative"},
	}
	for _, r := range rules {
		if r.bad {
			return &Error{Code: CodeInvalidConfig, Message: r.msg}
		}
	}
	return nil
}

// Pool wraps *sql.DB with placeholder rebinding, migrations and metrics
type Pool struct {
	db      *sql.DB
	config  PoolConfig
	metrics *prometheus.Metrics
}

// pingTimeout bounds the connectivity check in NewPool
const pingTimeout = 5 * time.Second

// NewPool validates config, opens the database and pings it once
func NewPool(config PoolConfig) (*Pool, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.DriverName, err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", config.DriverName, err)
	}
	return &Pool{db: sqlDB, config: config}, nil
}

// Error codes
const (
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidState  = "INVALID_STATE"
)

// Error is returned for misuse of the pool, as opposed to driver errors
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// WithMetrics records query latency and pool gauges on m
func (p *Pool) WithMetrics(m *prometheus.Metrics) *Pool {
	p.metrics = m
	return p
}

// Driver returns the configured driver name
func (p *Pool) Driver() string {
	return p.config.DriverName
}

// Rebind rewrites "?" placeholders into the driver's bind syntax
func (p *Pool) Rebind(query string) string {
	if p.config.DriverName != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// DB returns the underlying *sql.DB. It panics on a nil or closed pool.
func (p *Pool) DB() *sql.DB {
	if err := p.state(); err != nil {
		panic(err.Error())
	}
	return p.db
}

// Close closes the connection pool
func (p *Pool) Close() error {
	if err := p.state(); err != nil {
		return err
	}
	return p.db.Close()
}

// Ping tests the connection
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.check(ctx, "ping"); err != nil {
		return err
	}
	return p.db.PingContext(ctx)
}

// Stats returns pool statistics, zero for a nil pool
func (p *Pool) Stats() sql.DBStats {
	if p.state() != nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// ReportStats pushes the current pool statistics to the metrics gauges
func (p *Pool) ReportStats() {
	s := p.Stats()
	p.metrics.UpdateDatabasePool(s.OpenConnections, s.Idle, s.InUse)
}

func (p *Pool) state() error {
	switch {
	case p == nil:
		return &Error{Code: CodeInvalidState, Message: "nil pool"}
	case p.db == nil:
		return &Error{Code: CodeInvalidState, Message: "pool is not open"}
	}
	return nil
}

func (p *Pool) check(ctx context.Context, query string) error {
	if err := p.state(); err != nil {
		return err
	}
	if ctx == nil {
		return &Error{Code: CodeInvalidState, Message: "nil context"}
	}
	if strings.TrimSpace(query) == "" {
		return &Error{Code: CodeInvalidState, Message: "empty query"}
	}
	return nil
}

func (p *Pool) observe(op string, start time.Time) {
	p.metrics.RecordDatabaseQuery(op, time.Since(start))
}

// Query executes a query that returns rows. Placeholders are rebound.
func (p *Pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := p.check(ctx, query); err != nil {
		return nil, err
	}
	defer p.observe("query", time.Now())
	return p.db.QueryContext(ctx, p.Rebind(query), args...)
}

// QueryRow executes a query that returns a single row. Misuse panics since
// *sql.Row cannot carry the error until Scan.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if err := p.check(ctx, query); err != nil {
		panic(err.Error())
	}
	defer p.observe("query_row", time.Now())
	return p.db.QueryRowContext(ctx, p.Rebind(query), args...)
}

// Exec executes a command
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := p.check(ctx, query); err != nil {
		return nil, err
	}
	defer p.observe("exec", time.Now())
	return p.db.ExecContext(ctx, p.Rebind(query), args...)
}

// Begin starts a transaction
func (p *Pool) Begin(ctx context.Context) (*sql.Tx, error) {
	return p.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if err := p.check(ctx, "begin"); err != nil {
		return nil, err
	}
	return p.db.BeginTx(ctx, opts)
}

// Migrate runs each statement in order inside one transaction
func (p *Pool) Migrate(ctx context.Context, statements ...string) error {
	tx, err := p.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
