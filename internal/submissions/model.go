package submissions

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Status enumerates the lifecycle states of a submission.
type Status string

const (
	// StatusWaiting marks a freshly uploaded submission queued for judging.
	StatusWaiting Status = "Waiting"
	// StatusJudging marks a submission claimed by a judger.
	StatusJudging Status = "Judging"
	// StatusJudged marks a fully graded submission.
	StatusJudged Status = "Judged"
	// StatusJudgedWaiting marks a sample-only verdict awaiting the final test round.
	StatusJudgedWaiting Status = "Judged, Waiting"
	// StatusJudgedJudging marks a sample verdict whose final test round is running.
	StatusJudgedJudging Status = "Judged, Judging"
	// StatusWaitingRejudge marks a submission reset by a rejudge and queued again.
	StatusWaitingRejudge Status = "Waiting Rejudge"
)

// RecordKind distinguishes full-regrade snapshots from annotation entries.
type RecordKind string

const (
	// KindMajor is a full-regrade snapshot; it can still be the latest version.
	KindMajor RecordKind = "major"
	// KindMinor is an annotation; it never affects latest-state determination.
	KindMinor RecordKind = "minor"
)

var (
	// ErrInvalidSubmissionID indicates a submission identifier that is not a positive integer.
	ErrInvalidSubmissionID = errors.New("submissions: invalid submission id")
	// ErrInvalidRecordID indicates a history record identifier that is not a positive integer.
	ErrInvalidRecordID = errors.New("submissions: invalid record id")
)

// SubmissionID is a validated submission identifier.
type SubmissionID uint64

// ParseSubmissionID validates raw input and returns a SubmissionID.
func ParseSubmissionID(raw string) (SubmissionID, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSubmissionID, raw)
	}
	return SubmissionID(value), nil
}

// Uint64 exposes the raw identifier value.
func (id SubmissionID) Uint64() uint64 {
	return uint64(id)
}

// RecordID is a validated history record identifier (TID in URLs).
type RecordID uint64

// ParseRecordID validates raw input and returns a RecordID.
func ParseRecordID(raw string) (RecordID, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecordID, raw)
	}
	return RecordID(value), nil
}

// Uint64 exposes the raw identifier value.
func (id RecordID) Uint64() uint64 {
	return uint64(id)
}

// Submission is the single live row per upload. JudgeTime doubles as the
// fencing token: a judger callback applies only while its token still matches.
type Submission struct {
	ID                uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	ProblemID         uint64         `gorm:"column:problem_id;not null;index:idx_submissions_problem_score,priority:1"`
	ContestID         *uint64        `gorm:"column:contest_id;index"`
	Submitter         string         `gorm:"column:submitter;size:190;not null;index:idx_submissions_submitter_problem,priority:1"`
	Content           datatypes.JSON `gorm:"column:content;not null"`
	Language          string         `gorm:"column:language;size:64;not null"`
	Status            Status         `gorm:"column:status;size:32;not null"`
	StatusDetails     string         `gorm:"column:status_details;type:text;not null;default:''"`
	Result            datatypes.JSON `gorm:"column:result"`
	Score             *float64       `gorm:"column:score;index:idx_submissions_problem_score,priority:2"`
	HiddenScore       *float64       `gorm:"column:hidden_score"`
	HideScoreToOthers bool           `gorm:"column:hide_score_to_others;not null;default:false"`
	UsedTime          int64          `gorm:"column:used_time;not null;default:0"`
	UsedMemory        int64          `gorm:"column:used_memory;not null;default:0"`
	ResultError       *string        `gorm:"column:result_error;size:190"`
	Judger            string         `gorm:"column:judger;size:190;not null;default:''"`
	JudgeTime         *time.Time     `gorm:"column:judge_time"`
	JudgeReason       string         `gorm:"column:judge_reason;type:text;not null;default:''"`
	SubmitTime        time.Time      `gorm:"column:submit_time;not null"`
	TotSize           int64          `gorm:"column:tot_size;not null;default:0"`
	IsHidden          bool           `gorm:"column:is_hidden;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "submissions"
}

// JudgmentRecord is one append-only history entry for a submission. Major
// records snapshot a superseded grading round before a rejudge resets the live
// row; minor records annotate without touching the live row. Score holds the
// actual score at snapshot time and is publicly visible.
type JudgmentRecord struct {
	TID          uint64         `gorm:"column:tid;primaryKey;autoIncrement"`
	SubmissionID uint64         `gorm:"column:submission_id;not null;index:idx_judgments_submission_time,priority:1"`
	JudgeTime    *time.Time     `gorm:"column:judge_time;index:idx_judgments_submission_time,priority:2"`
	JudgeReason  string         `gorm:"column:judge_reason;type:text;not null;default:''"`
	Judger       string         `gorm:"column:judger;size:190;not null;default:''"`
	Result       datatypes.JSON `gorm:"column:result"`
	Status       Status         `gorm:"column:status;size:32;not null"`
	ResultError  *string        `gorm:"column:result_error;size:190"`
	Score        *float64       `gorm:"column:score"`
	UsedTime     int64          `gorm:"column:used_time;not null;default:0"`
	UsedMemory   int64          `gorm:"column:used_memory;not null;default:0"`
	Kind         RecordKind     `gorm:"column:kind;size:8;not null"`
}

// TableName provides the explicit table binding for GORM.
func (JudgmentRecord) TableName() string {
	return "submission_judgments"
}

// ActualScore resolves the server-side score regardless of freeze state.
func (s *Submission) ActualScore() *float64 {
	if s.HideScoreToOthers {
		return s.HiddenScore
	}
	return s.Score
}

// HasFullyJudged reports whether every pending round has been graded.
func (s *Submission) HasFullyJudged() bool {
	return s.Status == StatusJudged
}
