package database

import (
	"fmt"

	"github.com/gavel-oj/gavel/internal/accounts"
	"github.com/gavel-oj/gavel/internal/bestac"
	"github.com/gavel-oj/gavel/internal/contests"
	"github.com/gavel-oj/gavel/internal/submissions"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite write locks are process-wide; a single connection keeps the
	// row-locking transactions serialized instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&submissions.Submission{},
		&submissions.JudgmentRecord{},
		&contests.Contest{},
		&accounts.User{},
		&accounts.ProblemPermission{},
		&accounts.ContestPermission{},
		&bestac.BestAC{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
