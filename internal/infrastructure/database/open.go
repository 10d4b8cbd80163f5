package database

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"nftsales/internal/application"
	"nftsales/internal/config"
	"nftsales/internal/infrastructure/mysql"
	"nftsales/internal/infrastructure/sqlite"
	"nftsales/internal/storage"
)

// Repository is what both processes need from the store: entity storage
// for the indexer and the per-chain progress marker for ordering.
type Repository interface {
	storage.Backend
	application.StateRepository
	Close() error
}

// Open selects MySQL when a DSN is configured and SQLite otherwise.
func Open(cfg config.Config) (Repository, error) {
	if cfg.UsesMySQL() {
		repo, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		slog.Info("using mysql store")
		return repo, nil
	}
	if cfg.SQLitePath == "" {
		return nil, errors.New("either DB_DSN or SQLITE_PATH is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	repo, err := sqlite.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	slog.Info("using sqlite store", "path", cfg.SQLitePath)
	return repo, nil
}
