package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"condor-aog/config"
	"condor-aog/core/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// NewDB opens the configured database. sqlite is the default deployment;
// postgres via pgx is available for multi-node installs.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.DBURL); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.DBURL)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// Single writer keeps the optimistic version checks honest under
		// sqlite's locking model.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("DB open sqlite path=%s", cfg.DBURL)
		}
		return db, nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Printf("DB open postgres")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", cfg.DBDriver)
	}
}
