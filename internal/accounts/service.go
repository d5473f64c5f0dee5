package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gavel-oj/gavel/internal/submissions"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies for permission resolution.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service answers viewer permission predicates from the accounts tables.
// It caches super-user lookups for the life of the process; per-entity
// management checks always hit the database.
type Service struct {
	db         *gorm.DB
	superCache sync.Map
}

// NewService constructs the permission service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// IsSuperUser reports whether the viewer holds the global privilege flag.
func (s *Service) IsSuperUser(ctx context.Context, viewer submissions.Viewer) bool {
	username := normalize(viewer.Username)
	if username == "" {
		return false
	}
	if cached, ok := s.superCache.Load(username); ok {
		if flag, ok := cached.(bool); ok {
			return flag
		}
	}
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.superCache.Store(username, false)
		return false
	}
	if err != nil {
		return false
	}
	s.superCache.Store(username, user.SuperUser)
	return user.SuperUser
}

// CanManageProblem reports whether the viewer holds a permission row for the problem.
func (s *Service) CanManageProblem(ctx context.Context, viewer submissions.Viewer, problemID uint64) bool {
	username := normalize(viewer.Username)
	if username == "" {
		return false
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&ProblemPermission{}).
		Where("problem_id = ? AND username = ?", problemID, username).
		Count(&count).Error
	return err == nil && count > 0
}

// CanManageContest reports whether the viewer holds a permission row for the contest.
func (s *Service) CanManageContest(ctx context.Context, viewer submissions.Viewer, contestID uint64) bool {
	username := normalize(viewer.Username)
	if username == "" {
		return false
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&ContestPermission{}).
		Where("contest_id = ? AND username = ?", contestID, username).
		Count(&count).Error
	return err == nil && count > 0
}
