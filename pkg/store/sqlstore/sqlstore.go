// Package sqlstore is the database/sql repository for todos and users. It runs
// on SQLite (mattn/go-sqlite3) or Postgres (lib/pq) through db.Pool.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/db"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS todos (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		text       TEXT NOT NULL,
		completed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS todos_user_created ON todos (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS todos (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		text       TEXT NOT NULL,
		completed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS todos_user_created ON todos (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash BYTEA NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
}

// Store implements store.Repository and auth.UserStore
type Store struct {
	pool *db.Pool
	now  func() time.Time
}

// Open creates the pool and migrates the schema
func Open(ctx context.Context, cfg db.PoolConfig, metrics *prometheus.Metrics) (*Store, error) {
	pool, err := db.NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DriverName, err)
	}
	s := New(pool.WithMetrics(metrics))
	if err := s.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// New wraps an existing pool. Call Migrate before use.
func New(pool *db.Pool) *Store {
	return &Store{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if s.pool.Driver() == db.DriverPostgres {
		return s.pool.Migrate(ctx, postgresSchema...)
	}
	return s.pool.Migrate(ctx, sqliteSchema...)
}

// Pool exposes the underlying pool
func (s *Store) Pool() *db.Pool {
	return s.pool
}

// Close closes the pool
func (s *Store) Close() error {
	return s.pool.Close()
}

const todoColumns = `id, user_id, text, completed, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (todo.Item, error) {
	var it todo.Item
	err := row.Scan(&it.ID, &it.OwnerID, &it.Text, &it.Completed, &it.CreatedAt, &it.UpdatedAt)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, err
}

func (s *Store) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	if ownerID == "" {
		return nil, todo.ErrUnauthenticated
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE user_id = ? ORDER BY created_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch todos: %w", err)
	}
	defer rows.Close()

	items := make([]todo.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("Failed to fetch todos: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Failed to fetch todos: %w", err)
	}
	return items, nil
}

func (s *Store) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	if ownerID == "" {
		return todo.Item{}, todo.ErrUnauthenticated
	}
	text, err := todo.NormalizeText(text)
	if err != nil {
		return todo.Item{}, err
	}

	now := s.now()
	it := todo.Item{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		it.ID, it.OwnerID, it.Text, it.Completed, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to create todo: %w", err)
	}
	return it, nil
}

func (s *Store) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	if ownerID == "" {
		return todo.Item{}, todo.ErrUnauthenticated
	}
	if patch.Empty() {
		return todo.Item{}, todo.ErrEmptyPatch
	}
	patch, err := patch.Normalize()
	if err != nil {
		return todo.Item{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to update todo: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.pool.Rebind(
		`UPDATE todos SET text = COALESCE(?, text), completed = COALESCE(?, completed), updated_at = ?
		 WHERE id = ? AND user_id = ?`),
		patch.Text, patch.Completed, s.now(), id, ownerID)
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to update todo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return todo.Item{}, todo.ErrNotFound
	}

	it, err := scanItem(tx.QueryRowContext(ctx, s.pool.Rebind(
		`SELECT `+todoColumns+` FROM todos WHERE id = ? AND user_id = ?`), id, ownerID))
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to update todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return todo.Item{}, fmt.Errorf("Failed to update todo: %w", err)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return todo.ErrUnauthenticated
	}
	res, err := s.pool.Exec(ctx, `DELETE FROM todos WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("Failed to delete todo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return todo.ErrNotFound
	}
	return nil
}

// CreateUser inserts u; auth.ErrUserExists on a duplicate email
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrUserExists
	}
	return err
}

// UserByEmail looks a user up; auth.ErrUserNotFound if absent
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	var u auth.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
