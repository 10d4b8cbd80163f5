package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nftsales/internal/storage"

	_ "modernc.org/sqlite"
)

// Repository is the embedded entity store. A single connection serializes
// writers, so transactions never see SQLITE_BUSY.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (entity, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Load(ctx context.Context, entity, id string) ([]byte, bool, error) {
	return entityStore{q: r.db}.Load(ctx, entity, id)
}

func (r *Repository) Save(ctx context.Context, entity, id string, payload []byte) error {
	return entityStore{q: r.db}.Save(ctx, entity, id, payload)
}

func (r *Repository) Delete(ctx context.Context, entity, id string) error {
	return entityStore{q: r.db}.Delete(ctx, entity, id)
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, entityStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter storage.ListFilter) ([]storage.Record, error) {
	if filter.Entity == "" {
		return nil, storage.ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT entity_id, payload FROM entities
		WHERE entity = ? AND entity_id > ?
		ORDER BY entity_id ASC LIMIT ?`, filter.Entity, filter.After, storage.NormalizeLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		record := storage.Record{Entity: filter.Entity}
		if err := rows.Scan(&record.ID, &record.Payload); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, stateKey(chainID)).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var block uint64
	if _, err := fmt.Sscanf(value, "%d", &block); err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, stateKey(chainID), fmt.Sprintf("%d", block))
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func stateKey(chainID uint64) string {
	if chainID == 0 {
		return "last_block"
	}
	return fmt.Sprintf("last_block:%d", chainID)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type entityStore struct {
	q queryer
}

func (s entityStore) Load(ctx context.Context, entity, id string) ([]byte, bool, error) {
	if err := storage.ValidateKey(entity, id); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var payload []byte
	err := s.q.QueryRowContext(ctx, `SELECT payload FROM entities WHERE entity = ? AND entity_id = ?`, entity, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s entityStore) Save(ctx context.Context, entity, id string, payload []byte) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.q.ExecContext(ctx, `INSERT INTO entities (entity, entity_id, payload) VALUES (?, ?, ?)
		ON CONFLICT(entity, entity_id) DO UPDATE SET payload = excluded.payload`, entity, id, payload)
	return err
}

func (s entityStore) Delete(ctx context.Context, entity, id string) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.q.ExecContext(ctx, `DELETE FROM entities WHERE entity = ? AND entity_id = ?`, entity, id)
	return err
}
