// Package postgres is a PostgreSQL tourist repository built on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/mutator"
	"github.com/unkn0wn-root/touristcache/tourist"
)

var ErrMissingDSN = errors.New("postgres: DSN is required")

// Schema creates the tourists table. seq keeps insertion order for list reads.
const Schema = `CREATE TABLE IF NOT EXISTS tourists (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	surname      TEXT NOT NULL,
	email        TEXT NOT NULL UNIQUE,
	phone_number TEXT NOT NULL UNIQUE,
	country      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tourists_name_surname_idx ON tourists (name, surname);`

const columns = `id, name, surname, email, phone_number, country`

type Config struct {
	DSN             string
	MaxOpenConns    int // 0 => 10
	MaxIdleConns    int // 0 => 5
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and applies pool settings.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Repository persists tourists in PostgreSQL.
type Repository struct {
	db *sql.DB
}

var (
	_ mutator.Repository       = (*Repository)(nil)
	_ touristcache.RemoteStore = (*Repository)(nil)
)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (tourist.Tourist, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM tourists WHERE id = $1`, id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (tourist.Tourist, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM tourists WHERE email = $1`, email)
}

func (r *Repository) GetByPhone(ctx context.Context, phone string) (tourist.Tourist, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM tourists WHERE phone_number = $1`, phone)
}

func (r *Repository) GetByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error) {
	return r.getMany(ctx, `SELECT `+columns+` FROM tourists WHERE name = $1 AND surname = $2 ORDER BY seq`, name, surname)
}

func (r *Repository) GetAll(ctx context.Context) ([]tourist.Tourist, error) {
	return r.getMany(ctx, `SELECT `+columns+` FROM tourists ORDER BY seq`)
}

// Save upserts by id.
func (r *Repository) Save(ctx context.Context, t tourist.Tourist) (tourist.Tourist, error) {
	const query = `INSERT INTO tourists (` + columns + `)
                   VALUES ($1, $2, $3, $4, $5, $6)
                   ON CONFLICT (id) DO UPDATE SET
                     name = EXCLUDED.name, surname = EXCLUDED.surname, email = EXCLUDED.email,
                     phone_number = EXCLUDED.phone_number, country = EXCLUDED.country
                   RETURNING ` + columns
	row := r.db.QueryRowContext(ctx, query, t.ID, t.Name, t.Surname, t.Email, t.PhoneNumber, t.Country)
	saved, err := scan(row)
	if err != nil {
		return tourist.Tourist{}, translateError(err)
	}
	return saved, nil
}

func (r *Repository) Delete(ctx context.Context, id string) (tourist.Tourist, error) {
	return r.getOne(ctx, `DELETE FROM tourists WHERE id = $1 RETURNING `+columns, id)
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (tourist.Tourist, error) {
	t, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tourist.Tourist{}, tourist.ErrNotFound
		}
		return tourist.Tourist{}, translateError(err)
	}
	return t, nil
}

func (r *Repository) getMany(ctx context.Context, query string, args ...any) ([]tourist.Tourist, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	out := []tourist.Tourist{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (tourist.Tourist, error) {
	var t tourist.Tourist
	err := s.Scan(&t.ID, &t.Name, &t.Surname, &t.Email, &t.PhoneNumber, &t.Country)
	return t, err
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", tourist.ErrConflict, pqErr.Constraint)
		case "22P02":
			return tourist.ErrNotFound
		}
	}
	return err
}
