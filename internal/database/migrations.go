package database

import (
	"errors"
	"time"

	"github.com/gavel-oj/gavel/internal/submissions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillJudgmentKind = "2026-07-18_backfill_judgment_kind"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillJudgmentKind, apply: backfillJudgmentKind},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// History rows written before the kind column existed were all full-regrade
// snapshots.
func backfillJudgmentKind(db *gorm.DB) error {
	return db.Model(&submissions.JudgmentRecord{}).
		Where("kind IS NULL OR kind = ''").
		Update("kind", submissions.KindMajor).Error
}
