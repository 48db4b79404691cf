// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nacnud88/markschecker3/internal/search"
)

// SessionStoreConfig controls the Postgres connection pool.
type SessionStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SessionStore persists sessions and product records in Postgres.
type SessionStore struct {
	pool pgxIface
}

// NewSessionStore creates a Postgres-backed SessionStore using the provided config.
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{pool: pool}, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(pool pgxIface) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the session and product tables when missing.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			total_terms INTEGER NOT NULL DEFAULT 0,
			processed_terms INTEGER NOT NULL DEFAULT 0,
			total_products INTEGER NOT NULL DEFAULT 0,
			region_id TEXT,
			region_info JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			search_term TEXT NOT NULL,
			found BOOLEAN NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_session ON products(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, state search.SessionState) error {
	regionJSON, err := json.Marshal(state.Region)
	if err != nil {
		return fmt.Errorf("marshal region info: %w", err)
	}
	query := `
INSERT INTO sessions (id, status, total_terms, processed_terms, total_products, region_id, region_info, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		state.ID,
		string(state.Status),
		state.TotalTerms,
		state.ProcessedTerms,
		state.TotalProducts,
		state.RegionID,
		regionJSON,
		state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads one session row.
func (s *SessionStore) GetSession(ctx context.Context, id string) (search.SessionState, error) {
	query := `
SELECT id, status, total_terms, processed_terms, total_products, region_id, region_info, created_at
FROM sessions WHERE id = $1`

	var (
		state      search.SessionState
		status     string
		regionJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&state.ID,
		&status,
		&state.TotalTerms,
		&state.ProcessedTerms,
		&state.TotalProducts,
		&state.RegionID,
		&regionJSON,
		&state.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return search.SessionState{}, search.ErrSessionNotFound
		}
		return search.SessionState{}, fmt.Errorf("get session: %w", err)
	}
	state.Status = search.SessionStatus(status)
	if len(regionJSON) > 0 {
		if err := json.Unmarshal(regionJSON, &state.Region); err != nil {
			return search.SessionState{}, fmt.Errorf("unmarshal region info: %w", err)
		}
	}
	return state, nil
}

// UpdateProgress applies the non-nil fields of the update.
func (s *SessionStore) UpdateProgress(ctx context.Context, id string, upd search.ProgressUpdate) error {
	set := ""
	args := []any{}
	add := func(column string, value any) {
		if set != "" {
			set += ", "
		}
		args = append(args, value)
		set += fmt.Sprintf("%s = $%d", column, len(args))
	}
	if upd.ProcessedTerms != nil {
		add("processed_terms", *upd.ProcessedTerms)
	}
	if upd.TotalProducts != nil {
		add("total_products", *upd.TotalProducts)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if set == "" {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", set, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return search.ErrSessionNotFound
	}
	return nil
}

// AppendProducts inserts one row per record.
func (s *SessionStore) AppendProducts(ctx context.Context, id string, records []search.ProductRecord) error {
	query := `INSERT INTO products (session_id, search_term, found, data) VALUES ($1, $2, $3, $4)`
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal product record: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query, id, rec.SearchTerm, rec.Found, data); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	}
	return nil
}

// ListProducts returns all records for a session in insertion order. Rows
// whose payload no longer unmarshals are skipped rather than failing the
// whole listing.
func (s *SessionStore) ListProducts(ctx context.Context, id string) ([]search.ProductRecord, error) {
	query := `SELECT data FROM products WHERE session_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	records := []search.ProductRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		var rec search.ProductRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return records, nil
}

// DeleteSession removes a session and its product rows.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM products WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return search.ErrSessionNotFound
	}
	return nil
}
