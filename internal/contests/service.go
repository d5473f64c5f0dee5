package contests

import (
	"context"
	"errors"
	"fmt"

	"github.com/gavel-oj/gavel/internal/submissions"
	"gorm.io/gorm"
)

// ErrContestNotFound indicates a lookup for an unknown contest id.
var ErrContestNotFound = errors.New("contests: contest not found")

// ServiceConfig describes the dependencies for contest resolution.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves contest state for the submission lifecycle.
type Service struct {
	db *gorm.DB
}

// NewService constructs the contest directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("contests: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// Lookup resolves the contest state slice consumed by uploads and rejudges.
func (s *Service) Lookup(ctx context.Context, contestID uint64) (submissions.ContestInfo, error) {
	var contest Contest
	err := s.db.WithContext(ctx).Where("id = ?", contestID).Take(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return submissions.ContestInfo{}, fmt.Errorf("%w: %d", ErrContestNotFound, contestID)
	}
	if err != nil {
		return submissions.ContestInfo{}, err
	}
	return submissions.ContestInfo{
		ID:             contest.ID,
		Frozen:         contest.Frozen,
		JudgeType:      contest.JudgeType,
		SampleTestText: contest.SampleTestText,
		RejudgeReason: submissions.ReasonDescriptor{
			Text:      contest.RejudgeReasonText,
			Requestor: contest.RejudgeRequestor,
			URL:       contest.RejudgeReasonURL,
		},
	}, nil
}
