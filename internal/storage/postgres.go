package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores objects in a single table, one row per object. The
// pgx driver is used through database/sql so tests can run against a
// mocked connection.
type Postgres struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS objects (
	kind       text        NOT NULL,
	id         text        NOT NULL,
	data       jsonb       NOT NULL,
	updated_at timestamptz NOT NULL,
	PRIMARY KEY (kind, id)
)`

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection, used in tests.
func NewPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Save(ctx context.Context, obj Storable) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO objects (kind, id, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, id) DO UPDATE SET data = $3, updated_at = $4`,
		obj.Kind(), obj.StorageID(), raw, time.Now())
	return err
}

func (p *Postgres) Get(ctx context.Context, dst Storable) error {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE kind = $1 AND id = $2`,
		dst.Kind(), dst.StorageID()).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (p *Postgres) Delete(ctx context.Context, obj Storable) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM objects WHERE kind = $1 AND id = $2`,
		obj.Kind(), obj.StorageID())
	return err
}

func (p *Postgres) List(ctx context.Context, kind string) ([][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT data FROM objects WHERE kind = $1`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM objects`)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
