package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nftsales/internal/storage"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository keeps entity records as JSON payloads keyed by (entity, id)
// and the ordering process state.
type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			entity VARCHAR(32) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			entity_id VARCHAR(191) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			payload MEDIUMBLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (entity, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(64) NOT NULL,
			PRIMARY KEY (state_key)
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
	ctx, span := startDBSpan(ctx, "mysql.WithinTx")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, entityStore{q: tx}); err != nil {
		_ = tx.Rollback()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter storage.ListFilter) ([]storage.Record, error) {
	if filter.Entity == "" {
		return nil, storage.ErrInvalidInput
	}
	ctx, span := startDBSpan(ctx, "mysql.List", attribute.String("entity", filter.Entity))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT entity_id, payload FROM entities
		WHERE entity = ? AND entity_id > ?
		ORDER BY entity_id ASC LIMIT ?`, filter.Entity, filter.After, storage.NormalizeLimit(filter.Limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
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
	key := stateKey(chainID)
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, key).Scan(&value); err != nil {
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
	ctx, span := startDBSpan(ctx, "mysql.SetLastProcessedBlock",
		attribute.Int64("chain.id", int64(chainID)),
		attribute.Int64("block.number", int64(block)),
	)
	defer span.End()
	key := stateKey(chainID)
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, key, fmt.Sprintf("%d", block))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
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

// entityStore runs entity statements on the pool or inside a transaction.
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
	ctx, span := startDBSpan(ctx, "mysql.Save",
		attribute.String("entity", entity),
		attribute.String("entity.id", id),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.q.ExecContext(ctx, `INSERT INTO entities (entity, entity_id, payload) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)`, entity, id, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s entityStore) Delete(ctx context.Context, entity, id string) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	ctx, span := startDBSpan(ctx, "mysql.Delete",
		attribute.String("entity", entity),
		attribute.String("entity.id", id),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.q.ExecContext(ctx, `DELETE FROM entities WHERE entity = ? AND entity_id = ?`, entity, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("nftsales/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
