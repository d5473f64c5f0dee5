package bestac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gavel-oj/gavel/internal/submissions"
	"gorm.io/gorm"
)

// BestAC is the per-user-per-problem summary of the best accepted submission.
type BestAC struct {
	Submitter    string    `gorm:"column:submitter;primaryKey;size:190;not null"`
	ProblemID    uint64    `gorm:"column:problem_id;primaryKey"`
	SubmissionID uint64    `gorm:"column:submission_id;not null"`
	UsedTime     int64     `gorm:"column:used_time;not null;default:0"`
	UsedMemory   int64     `gorm:"column:used_memory;not null;default:0"`
	TotSize      int64     `gorm:"column:tot_size;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (BestAC) TableName() string {
	return "best_ac_submissions"
}

// ServiceConfig describes the dependencies for best-AC maintenance.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service maintains the best-AC index. Refresh recomputes the row from the
// live submissions table, so it is idempotent and safe to re-run after any
// score-affecting change.
type Service struct {
	db *gorm.DB
}

// NewService constructs the best-AC updater.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("bestac: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// Refresh recomputes the best accepted submission for one (submitter,
// problem) pair: the fastest full-score live submission wins, and the index
// row is dropped when no accepted submission remains.
func (s *Service) Refresh(ctx context.Context, submitter string, problemID uint64) error {
	var best submissions.Submission
	err := s.db.WithContext(ctx).
		Where("submitter = ? AND problem_id = ? AND score = ?", submitter, problemID, 100).
		Order("used_time ASC, id ASC").
		Take(&best).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).
			Where("submitter = ? AND problem_id = ?", submitter, problemID).
			Delete(&BestAC{}).Error
	}
	if err != nil {
		return err
	}

	row := BestAC{
		Submitter:    submitter,
		ProblemID:    problemID,
		SubmissionID: best.ID,
		UsedTime:     best.UsedTime,
		UsedMemory:   best.UsedMemory,
		TotSize:      best.TotSize,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Lookup returns the current best-AC row, or nil when none exists.
func (s *Service) Lookup(ctx context.Context, submitter string, problemID uint64) (*BestAC, error) {
	var row BestAC
	err := s.db.WithContext(ctx).
		Where("submitter = ? AND problem_id = ?", submitter, problemID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
