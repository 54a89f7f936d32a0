// Package repository provides database access layer.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roster/roster/internal/query"
)

// Common errors for repository operations.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate value")
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// PostgreSQL error codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// ConstraintError reports a constraint violation on an API field.
type ConstraintError struct {
	Err   error
	Field string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// constraintFields maps constraint names to the API field they guard.
var constraintFields = map[string]string{
	"students_student_id_key": "student_id",
	"employees_emp_id_key":    "emp_id",
	"comments_blog_id_fkey":   "blog",
	"users_username_key":      "username",
}

// classify converts unique and foreign key violations into ConstraintError.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	field := constraintFields[pgErr.ConstraintName]
	if field == "" {
		field = pgErr.ColumnName
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return &ConstraintError{Err: ErrDuplicate, Field: field}
	case codeForeignKeyViolation:
		return &ConstraintError{Err: ErrInvalidReference, Field: field}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// Repository provides database access methods.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new Repository with a connection pool.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// NewFromPool wraps an existing pool. Used by tests and the CLI.
func NewFromPool(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// list runs the count and page queries for a paginated listing.
func list[T query.Positioned](
	ctx context.Context,
	db *pgxpool.Pool,
	table, columns string,
	p *query.Params,
	scan func(pgx.Row) (T, error),
) (query.Result[T], error) {
	var count int64
	if p.Counted() {
		where, args := p.Where(1)
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&count); err != nil {
			return query.Result[T]{}, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}

	window, err := p.Window(count)
	if err != nil {
		return query.Result[T]{}, err
	}

	where, args := p.PageWhere(1)
	sql := "SELECT " + columns + " FROM " + table + where + p.OrderBy() + window.LimitOffset()

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return query.Result[T]{}, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]T, 0, window.Limit)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return query.Result[T]{}, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return query.Result[T]{}, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return query.NewResult(p, items, count, window), nil
}

// one maps pgx.ErrNoRows to ErrNotFound.
func one[T any](v T, err error, op string) (*T, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, classify(err))
	}
	return &v, nil
}

func deleteByID(ctx context.Context, db *pgxpool.Pool, table string, id int64) error {
	result, err := db.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
