package database

import (
	"fmt"
	"os"
	"path/filepath"

	"clipsave/internal/config"
	"clipsave/internal/history"
)

// HistoryFileName is the database file created under the history data dir.
const HistoryFileName = "history.db"

// NewHistoryStoreFromConfig creates the history store named by cfg.Type.
func NewHistoryStoreFromConfig(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, HistoryFileName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewSQLiteStore(":memory:")
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
