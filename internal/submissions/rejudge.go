package submissions

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Known permanent-infrastructure-failure sentinels. Rows carrying one of
// these never profit from a regrade and are skipped by major rejudges.
var permanentFailureErrors = []string{"Judgement Failed", "Judgment Failed"}

const (
	reasonRejudgeSubmission = "manual rejudge of this submission"
	reasonRejudgeProblem    = "manual rejudge of every submission to this problem"
	reasonRejudgeProblemAC  = "manual rejudge of every 100-point submission to this problem"
	reasonRejudgeProblem97  = "manual rejudge of every submission scoring at least 97 on this problem"
)

// RejudgeOptions tunes one rejudge run. The zero value requests a major
// rejudge with the default batch size; set Minor for an annotation-only run
// that never touches the live rows.
type RejudgeOptions struct {
	ReasonText string
	ReasonURL  string
	Requestor  string
	Minor      bool
	BatchSize  int
}

// SubmissionRef is the minimal projection the orchestrator groups on.
type SubmissionRef struct {
	ID        uint64  `gorm:"column:id"`
	ContestID *uint64 `gorm:"column:contest_id"`
}

// RejudgeReport summarizes a (possibly partially failed) rejudge run.
// Batches commit independently; failed batches are isolated and already
// committed ones stay committed.
type RejudgeReport struct {
	Targets       int
	Batches       int
	FailedBatches int
	Snapshots     int64
}

// Rejudge requeues a single submission.
func (s *Service) Rejudge(ctx context.Context, submission *Submission, opts RejudgeOptions) (RejudgeReport, error) {
	if opts.ReasonText == "" {
		opts.ReasonText = reasonRejudgeSubmission
	}
	return s.RejudgeSubmissions(ctx, []SubmissionRef{{ID: submission.ID, ContestID: submission.ContestID}}, opts)
}

// RejudgeProblem requeues every submission to a problem.
func (s *Service) RejudgeProblem(ctx context.Context, problemID uint64, opts RejudgeOptions) (RejudgeReport, error) {
	if opts.ReasonText == "" {
		opts.ReasonText = reasonRejudgeProblem
	}
	return s.RejudgeAll(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("problem_id = ?", problemID)
	}, opts)
}

// RejudgeProblemAC requeues every perfect-score submission to a problem.
func (s *Service) RejudgeProblemAC(ctx context.Context, problemID uint64, opts RejudgeOptions) (RejudgeReport, error) {
	if opts.ReasonText == "" {
		opts.ReasonText = reasonRejudgeProblemAC
	}
	return s.RejudgeAll(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("problem_id = ? AND score = ?", problemID, 100)
	}, opts)
}

// RejudgeProblemGe97 requeues every submission scoring at least 97.
func (s *Service) RejudgeProblemGe97(ctx context.Context, problemID uint64, opts RejudgeOptions) (RejudgeReport, error) {
	if opts.ReasonText == "" {
		opts.ReasonText = reasonRejudgeProblem97
	}
	return s.RejudgeAll(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("problem_id = ? AND score >= ?", problemID, 97)
	}, opts)
}

// RejudgeAll enumerates candidate ids matching the scope (read-only) and
// hands them to RejudgeSubmissions.
func (s *Service) RejudgeAll(ctx context.Context, scope func(*gorm.DB) *gorm.DB, opts RejudgeOptions) (RejudgeReport, error) {
	var refs []SubmissionRef
	query := s.db.WithContext(ctx).Model(&Submission{}).Select("id", "contest_id")
	if scope != nil {
		query = scope(query)
	}
	if err := query.Find(&refs).Error; err != nil {
		s.logError(opRejudge, "candidate_select_failed", err)
		return RejudgeReport{}, newServiceError(opRejudge, "candidate_select_failed", err)
	}
	return s.RejudgeSubmissions(ctx, refs, opts)
}

// RejudgeSubmissions groups the targets by contest so each group can merge
// the contest's standard justification, then rejudges group by group.
func (s *Service) RejudgeSubmissions(ctx context.Context, refs []SubmissionRef, opts RejudgeOptions) (RejudgeReport, error) {
	groups := map[uint64][]SubmissionRef{}
	order := []uint64{}
	for _, ref := range refs {
		key := uint64(0)
		if ref.ContestID != nil {
			key = *ref.ContestID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ref)
	}

	report := RejudgeReport{Targets: len(refs)}
	for _, key := range order {
		groupReport, err := s.rejudgeSimilarSubmissions(ctx, groups[key], opts)
		if err != nil {
			return report, err
		}
		report.Batches += groupReport.Batches
		report.FailedBatches += groupReport.FailedBatches
		report.Snapshots += groupReport.Snapshots
	}
	return report, nil
}

// rejudgeSimilarSubmissions handles one contest-homogeneous group.
func (s *Service) rejudgeSimilarSubmissions(ctx context.Context, refs []SubmissionRef, opts RejudgeOptions) (RejudgeReport, error) {
	report := RejudgeReport{}
	if len(refs) == 0 {
		return report, nil
	}

	if opts.ReasonText == "" {
		opts.ReasonText = reasonRejudgeSubmission
	}
	if refs[0].ContestID != nil {
		info, err := s.contests.Lookup(ctx, *refs[0].ContestID)
		if err != nil {
			s.logError(opRejudge, "contest_lookup_failed", err, zap.Uint64p("contest_id", refs[0].ContestID))
			return report, newServiceError(opRejudge, "contest_lookup_failed", err)
		}
		if info.RejudgeReason.Text != "" {
			opts.ReasonText = info.RejudgeReason.Text + ": " + opts.ReasonText
		}
		if opts.ReasonURL == "" {
			opts.ReasonURL = info.RejudgeReason.URL
		}
		if opts.Requestor == "" {
			opts.Requestor = info.RejudgeReason.Requestor
		}
	}

	reason, err := json.Marshal(ReasonDescriptor{
		Text:      opts.ReasonText,
		Requestor: opts.Requestor,
		URL:       opts.ReasonURL,
	})
	if err != nil {
		return report, newServiceError(opRejudge, "reason_encode_failed", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		ids := make([]uint64, 0, end-start)
		for _, ref := range refs[start:end] {
			ids = append(ids, ref.ID)
		}

		report.Batches++
		var batchErr error
		var snapshots int64
		if opts.Minor {
			snapshots, batchErr = s.annotateBatch(ctx, ids, string(reason))
		} else {
			snapshots, batchErr = s.resetBatch(ctx, ids, string(reason))
		}
		if batchErr != nil {
			// Batches are independent units; keep going, nothing rolls back
			// across batch boundaries.
			report.FailedBatches++
			s.logError(opRejudge, "batch_failed", batchErr, zap.Uint64s("submission_ids", ids))
			continue
		}
		report.Snapshots += snapshots
	}
	return report, nil
}

// resetBatch runs one major-rejudge unit: under row locks, snapshot every
// eligible live row into the history ledger, then reset those rows to
// Waiting Rejudge with the fencing token cleared.
func (s *Service) resetBatch(ctx context.Context, ids []uint64, reason string) (int64, error) {
	var snapshots int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var eligible []Submission
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Where("judge_time IS NOT NULL").
			Where("result_error IS NULL OR result_error NOT IN ?", permanentFailureErrors).
			Find(&eligible).Error
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return nil
		}

		records := make([]JudgmentRecord, 0, len(eligible))
		resetIDs := make([]uint64, 0, len(eligible))
		for i := range eligible {
			live := &eligible[i]
			records = append(records, JudgmentRecord{
				SubmissionID: live.ID,
				JudgeTime:    live.JudgeTime,
				JudgeReason:  live.JudgeReason,
				Judger:       live.Judger,
				Result:       live.Result,
				Status:       live.Status,
				ResultError:  live.ResultError,
				Score:        roundScorePtr(live.ActualScore()),
				UsedTime:     live.UsedTime,
				UsedMemory:   live.UsedMemory,
				Kind:         KindMajor,
			})
			resetIDs = append(resetIDs, live.ID)
		}
		if err := tx.Create(&records).Error; err != nil {
			return err
		}
		snapshots = int64(len(records))

		return tx.Model(&Submission{}).
			Where("id IN ?", resetIDs).
			Updates(map[string]any{
				"judge_time":   nil,
				"result":       nil,
				"score":        nil,
				"status":       StatusWaitingRejudge,
				"judge_reason": reason,
			}).Error
	})
	return snapshots, err
}

// annotateBatch appends minor history entries only; the live rows are neither
// locked nor modified.
func (s *Service) annotateBatch(ctx context.Context, ids []uint64, reason string) (int64, error) {
	records := make([]JudgmentRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, JudgmentRecord{
			SubmissionID: id,
			JudgeReason:  reason,
			Status:       StatusWaitingRejudge,
			Kind:         KindMinor,
		})
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}
