// Package pgstore is the native Postgres repository (pgx) with a change feed
// driven by LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the notification channel the todos trigger publishes on
const Channel = "todos_changes"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS todos (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		text       TEXT NOT NULL,
		completed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS todos_user_created ON todos (user_id, created_at DESC)`,
	`CREATE OR REPLACE FUNCTION todos_notify() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('` + Channel + `', json_build_object(
				'kind', 'deleted',
				'item', json_build_object('id', OLD.id, 'user_id', OLD.user_id))::text);
		ELSE
			PERFORM pg_notify('` + Channel + `', json_build_object(
				'kind', CASE WHEN TG_OP = 'INSERT' THEN 'inserted' ELSE 'updated' END,
				'item', row_to_json(NEW))::text);
		END IF;
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS todos_notify ON todos`,
	`CREATE TRIGGER todos_notify AFTER INSERT OR UPDATE OR DELETE ON todos
		FOR EACH ROW EXECUTE FUNCTION todos_notify()`,
}

// Repository implements store.Repository on a pgx pool
type Repository struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and migrates the schema
func Open(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	r := &Repository{pool: pool}
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Migrate creates the table and notification trigger
func (r *Repository) Migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pool exposes the pgx pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Close closes the pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

const columns = `id, user_id, text, completed, created_at, updated_at`

func scan(row pgx.Row) (todo.Item, error) {
	var it todo.Item
	err := row.Scan(&it.ID, &it.OwnerID, &it.Text, &it.Completed, &it.CreatedAt, &it.UpdatedAt)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, err
}

func (r *Repository) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	if ownerID == "" {
		return nil, todo.ErrUnauthenticated
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM todos WHERE user_id = $1 ORDER BY created_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch todos: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (todo.Item, error) {
		return scan(row)
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch todos: %w", err)
	}
	return items, nil
}

func (r *Repository) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	if ownerID == "" {
		return todo.Item{}, todo.ErrUnauthenticated
	}
	text, err := todo.NormalizeText(text)
	if err != nil {
		return todo.Item{}, err
	}
	ts := now()
	it, err := scan(r.pool.QueryRow(ctx,
		`INSERT INTO todos (`+columns+`) VALUES ($1, $2, $3, FALSE, $4, $4) RETURNING `+columns,
		uuid.NewString(), ownerID, text, ts))
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to create todo: %w", err)
	}
	return it, nil
}

func (r *Repository) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
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
	it, err := scan(r.pool.QueryRow(ctx,
		`UPDATE todos SET text = COALESCE($1, text), completed = COALESCE($2, completed), updated_at = $3
		 WHERE id = $4 AND user_id = $5 RETURNING `+columns,
		patch.Text, patch.Completed, now(), id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return todo.Item{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Item{}, fmt.Errorf("Failed to update todo: %w", err)
	}
	return it, nil
}

func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return todo.ErrUnauthenticated
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("Failed to delete todo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return todo.ErrNotFound
	}
	return nil
}
