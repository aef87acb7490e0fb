package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/creditforge/backend/internal/config"
)

// InitDB opens and pings a postgres connection pool.
func InitDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// PostgresStore keeps each collection as one JSONB row. The upsert is a
// single statement, so a save replaces the whole snapshot or nothing.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the snapshot table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			records JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return storageErr("migrate", "collections", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT records FROM collections WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, storageErr("load", name, err)
	}
	return decodeSnapshot(name, data)
}

func (s *PostgresStore) Save(ctx context.Context, name string, records []json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := encodeSnapshot(name, records)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (name, records, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET records = EXCLUDED.records, updated_at = EXCLUDED.updated_at`,
		name, data, time.Now().UTC())
	if err != nil {
		return storageErr("save", name, err)
	}
	return nil
}
