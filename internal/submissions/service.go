package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingContests = errors.New("contest directory is required")
	noOpLogger         = zap.NewNop()

	// ErrNotFound indicates the submission (or history row) does not exist.
	ErrNotFound = errors.New("submissions: not found")
	// ErrTokenMismatch indicates a judge callback whose fencing token matches
	// neither the live row nor any history entry. Expected for stale or
	// duplicate callbacks; callers must not retry.
	ErrTokenMismatch = errors.New("submissions: judge time token mismatch")
	// ErrMajorVersion indicates a minor-only operation was attempted on a
	// major version.
	ErrMajorVersion = errors.New("submissions: not a minor version")
)

const (
	opServiceNew        = "submissions.service.new"
	opQuery             = "submissions.query"
	opUpload            = "submissions.upload"
	opJudged            = "submissions.judged"
	opDelete            = "submissions.delete"
	opDeleteMinor       = "submissions.delete_minor"
	opLoadHistory       = "submissions.load_history"
	opRejudge           = "submissions.rejudge"
	opBestACRecompute   = "submissions.best_ac_recompute"
	defaultRejudgeBatch = 16
)

// ServiceError wraps a failure with a stable op.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig collects the dependencies of the lifecycle service.
type ServiceConfig struct {
	Database         *gorm.DB
	Clock            func() time.Time
	Logger           *zap.Logger
	Contests         ContestDirectory
	Access           AccessPolicy
	BestAC           BestACUpdater
	Blobs            BlobStore
	RejudgeBatchSize int
}

// Service drives the submission lifecycle: upload, judge callbacks, history
// versions, deletion and rejudge orchestration.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	contests  ContestDirectory
	access    AccessPolicy
	bestAC    BestACUpdater
	blobs     BlobStore
	batchSize int
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Contests == nil {
		return nil, newServiceError(opServiceNew, "missing_contest_directory", errMissingContests)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	batchSize := cfg.RejudgeBatchSize
	if batchSize <= 0 {
		batchSize = defaultRejudgeBatch
	}
	return &Service{
		db:        cfg.Database,
		clock:     clock,
		logger:    logger,
		contests:  cfg.Contests,
		access:    cfg.Access,
		bestAC:    cfg.BestAC,
		blobs:     cfg.Blobs,
		batchSize: batchSize,
	}, nil
}

// Query loads the live submission row. An absent id yields (nil, nil); lookup
// misses are an expected outcome, not an error.
func (s *Service) Query(ctx context.Context, id uint64) (*Submission, error) {
	if id == 0 {
		return nil, nil
	}
	var submission Submission
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opQuery, "select_failed", err, zap.Uint64("submission_id", id))
		return nil, newServiceError(opQuery, "select_failed", err)
	}
	return &submission, nil
}

// Archive is the uploaded content blob plus its structured config.
type Archive struct {
	Content   map[string]any
	BlobName  string
	TotalSize int64
}

// UploadOptions carries the upload context the caller resolved beforehand.
type UploadOptions struct {
	ProblemID     uint64
	ContestID     *uint64
	Submitter     string
	Language      string
	ProblemHidden bool
}

// OnUpload creates the live submission row in Waiting state. For a contest
// whose judge type runs samples first, the full config is stashed under
// final_test_config and the queued round is restricted to samples. A failed
// insert unlinks the already-stored blob and reports the failure without
// crashing the caller.
func (s *Service) OnUpload(ctx context.Context, archive *Archive, opts UploadOptions) (*Submission, error) {
	if archive == nil {
		return nil, newServiceError(opUpload, "missing_archive", errors.New("archive is required"))
	}

	content := map[string]any{}
	for key, value := range archive.Content {
		content[key] = value
	}
	config, _ := content["config"].([]any)
	config = append(config, []any{"problem_id", opts.ProblemID})

	judgeReason := ""
	hideScore := false
	if opts.ContestID != nil {
		info, err := s.contests.Lookup(ctx, *opts.ContestID)
		if err != nil {
			s.logError(opUpload, "contest_lookup_failed", err, zap.Uint64p("contest_id", opts.ContestID))
			return nil, newServiceError(opUpload, "contest_lookup_failed", err)
		}
		if strings.Contains(info.JudgeType, "sample") {
			content["final_test_config"] = config
			config = append(config, []any{"test_sample_only", "on"})
			reason, err := json.Marshal(map[string]string{"text": info.SampleTestText})
			if err != nil {
				return nil, newServiceError(opUpload, "reason_encode_failed", err)
			}
			judgeReason = string(reason)
		}
		hideScore = info.Frozen
	}
	content["config"] = config
	if archive.BlobName != "" {
		content["file_name"] = archive.BlobName
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, newServiceError(opUpload, "content_encode_failed", err)
	}
	resultJSON, err := json.Marshal(map[string]any{"status": StatusWaiting})
	if err != nil {
		return nil, newServiceError(opUpload, "result_encode_failed", err)
	}

	submission := Submission{
		ProblemID:         opts.ProblemID,
		ContestID:         opts.ContestID,
		Submitter:         opts.Submitter,
		Content:           datatypes.JSON(contentJSON),
		Language:          opts.Language,
		Status:            StatusWaiting,
		Result:            datatypes.JSON(resultJSON),
		HideScoreToOthers: hideScore,
		JudgeReason:       judgeReason,
		SubmitTime:        s.clock().UTC().Truncate(time.Second),
		TotSize:           archive.TotalSize,
		IsHidden:          opts.ContestID == nil && opts.ProblemHidden,
	}

	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		if s.blobs != nil && archive.BlobName != "" {
			if unlinkErr := s.blobs.Unlink(archive.BlobName); unlinkErr != nil {
				s.logError(opUpload, "blob_cleanup_failed", unlinkErr, zap.String("blob", archive.BlobName))
			}
		}
		s.logError(opUpload, "insert_failed", err, zap.Uint64("problem_id", opts.ProblemID))
		return nil, newServiceError(opUpload, "insert_failed", err)
	}
	return &submission, nil
}

// OnJudged applies one judger callback. The judgeTime fencing token selects
// the target row: the live row when it still matches, otherwise the history
// entry from the superseded round it graded. The whole update commits in one
// transaction; the token is re-checked by the conditional write, so a racing
// rejudge makes the callback land on the snapshot instead of the reset row.
func (s *Service) OnJudged(ctx context.Context, id uint64, outcome JudgeOutcome, judgeTime time.Time) error {
	judgeTime = judgeTime.UTC().Truncate(time.Second)

	var (
		live       Submission
		liveTarget bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&live).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opJudged, "submission_not_found", ErrNotFound)
		}
		if err != nil {
			return newServiceError(opJudged, "select_failed", err)
		}

		liveTarget = timesEqual(live.JudgeTime, &judgeTime)
		var target *JudgmentRecord
		if !liveTarget {
			var record JudgmentRecord
			err := tx.Where("submission_id = ? AND judge_time = ?", id, judgeTime).
				Take(&record).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opJudged, "token_mismatch", ErrTokenMismatch)
			}
			if err != nil {
				return newServiceError(opJudged, "history_select_failed", err)
			}
			target = &record
		}

		status := live.Status
		if target != nil {
			status = target.Status
		}

		updates, err := s.judgedUpdates(&live, target, status, outcome)
		if err != nil {
			return err
		}
		if updates == nil {
			// Out-of-order callback on a settled round: deliberate no-op.
			liveTarget = false
			return nil
		}

		if target == nil {
			write := tx.Model(&Submission{}).Where("id = ?", id)
			if live.JudgeTime == nil {
				write = write.Where("judge_time IS NULL")
			} else {
				write = write.Where("judge_time = ?", *live.JudgeTime)
			}
			result := write.Updates(updates)
			if result.Error != nil {
				return newServiceError(opJudged, "update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return newServiceError(opJudged, "token_mismatch", ErrTokenMismatch)
			}
		} else {
			err := tx.Model(&JudgmentRecord{}).
				Where("submission_id = ? AND judge_time = ?", id, judgeTime).
				Updates(updates).Error
			if err != nil {
				return newServiceError(opJudged, "history_update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opJudged, "apply_failed", txErr,
			zap.Uint64("submission_id", id),
			zap.Time("judge_time", judgeTime))
		return txErr
	}

	if liveTarget {
		s.refreshBestAC(ctx, live.Submitter, live.ProblemID)
	}
	return nil
}

// judgedUpdates derives the column updates for one callback. A nil map with a
// nil error means the callback hit a settled round and nothing changes.
func (s *Service) judgedUpdates(live *Submission, target *JudgmentRecord, status Status, outcome JudgeOutcome) (map[string]any, error) {
	updates := map[string]any{"status": StatusJudged}
	if target == nil {
		// The history table carries no status_details column.
		updates["status_details"] = ""
	}

	switch status {
	case StatusJudgedJudging:
		stored := live.Result
		if target != nil {
			stored = target.Result
		}
		merged, err := mergeFinalResult(stored, outcome)
		if err != nil {
			return nil, newServiceError(opJudged, "result_merge_failed", err)
		}
		updates["result"] = merged
		return updates, nil

	case StatusJudging:
		encoded, err := outcome.encode()
		if err != nil {
			return nil, newServiceError(opJudged, "result_encode_failed", err)
		}
		updates["result"] = encoded

		var actualScore *float64
		if outcome.Failed() {
			updates["result_error"] = outcome.Error
			updates["used_time"] = int64(0)
			updates["used_memory"] = int64(0)
		} else {
			actualScore = roundScorePtr(outcome.Score)
			updates["result_error"] = nil
			updates["used_time"] = outcome.Time
			updates["used_memory"] = outcome.Memory
		}

		if target == nil && live.HasFinalTestConfig() {
			updates["status"] = StatusJudgedWaiting
		}

		if target == nil {
			// Score routing applies only to the live row.
			if live.HideScoreToOthers {
				updates["score"] = nil
				updates["hidden_score"] = actualScore
			} else {
				updates["score"] = actualScore
				updates["hidden_score"] = nil
			}
		} else {
			updates["score"] = actualScore
		}
		return updates, nil

	default:
		return nil, nil
	}
}

// LoadHistoryByTime resolves the version of a submission graded at the given
// URL-form timestamp. A malformed timestamp or absent entry yields (nil, nil).
func (s *Service) LoadHistoryByTime(ctx context.Context, live *Submission, raw string) (*View, error) {
	parsed, err := time.ParseInLocation(HistoryTimeFormat, raw, time.UTC)
	if err != nil {
		return nil, nil
	}
	parsed = parsed.Truncate(time.Second)

	if timesEqual(live.JudgeTime, &parsed) {
		return NewView(*live), nil
	}

	var record JudgmentRecord
	err = s.db.WithContext(ctx).
		Where("submission_id = ? AND judge_time = ?", live.ID, parsed).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opLoadHistory, "select_failed", err, zap.Uint64("submission_id", live.ID))
		return nil, newServiceError(opLoadHistory, "select_failed", err)
	}
	return &View{Live: *live, Overlay: &record}, nil
}

// LoadHistoryByTID resolves a minor annotation version by its record id.
// Rows of any other kind are rejected with a negative result.
func (s *Service) LoadHistoryByTID(ctx context.Context, live *Submission, tid uint64) (*View, error) {
	if tid == 0 {
		return nil, nil
	}
	var record JudgmentRecord
	err := s.db.WithContext(ctx).
		Where("submission_id = ? AND tid = ?", live.ID, tid).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opLoadHistory, "select_failed", err, zap.Uint64("submission_id", live.ID))
		return nil, newServiceError(opLoadHistory, "select_failed", err)
	}
	if record.Kind != KindMinor {
		return nil, nil
	}
	return &View{Live: *live, Overlay: &record}, nil
}

// Delete removes the live row and its entire history, unlinks the content
// blob, and refreshes the best-AC index for the submitter.
func (s *Service) Delete(ctx context.Context, submission *Submission) error {
	if s.blobs != nil {
		if name := submission.ContentFileName(); name != "" {
			if err := s.blobs.Unlink(name); err != nil {
				s.logError(opDelete, "blob_unlink_failed", err, zap.String("blob", name))
			}
		}
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", submission.ID).Delete(&Submission{}).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		if err := tx.Where("submission_id = ?", submission.ID).Delete(&JudgmentRecord{}).Error; err != nil {
			return newServiceError(opDelete, "history_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr, zap.Uint64("submission_id", submission.ID))
		return txErr
	}
	s.refreshBestAC(ctx, submission.Submitter, submission.ProblemID)
	return nil
}

// DeleteThisMinorVersion prunes the single minor history row a view points
// at. Major versions are never pruned this way.
func (s *Service) DeleteThisMinorVersion(ctx context.Context, view *View) error {
	if view.IsMajor() {
		return newServiceError(opDeleteMinor, "major_version", ErrMajorVersion)
	}
	err := s.db.WithContext(ctx).
		Where("tid = ?", view.TID()).
		Delete(&JudgmentRecord{}).Error
	if err != nil {
		s.logError(opDeleteMinor, "delete_failed", err, zap.Uint64("tid", view.TID()))
		return newServiceError(opDeleteMinor, "delete_failed", err)
	}
	return nil
}

// refreshBestAC runs the post-commit best-AC recomputation; failures are
// logged only, the updater is idempotent and safe to retry later.
func (s *Service) refreshBestAC(ctx context.Context, submitter string, problemID uint64) {
	if s.bestAC == nil {
		return
	}
	if err := s.bestAC.Refresh(ctx, submitter, problemID); err != nil {
		s.logError(opBestACRecompute, "refresh_failed", err,
			zap.String("submitter", submitter),
			zap.Uint64("problem_id", problemID))
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("submission service error", attrs...)
}
