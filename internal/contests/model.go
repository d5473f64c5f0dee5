package contests

import "time"

// Contest holds the contest state the submission lifecycle consults: the
// freeze flag seeding frozen scoring, the judge type (a judge type mentioning
// "sample" runs a sample-only round first), and the standard rejudge
// justification merged into contest-wide rejudges.
type Contest struct {
	ID                uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Title             string    `gorm:"column:title;size:320;not null"`
	Frozen            bool      `gorm:"column:frozen;not null;default:false"`
	JudgeType         string    `gorm:"column:judge_type;size:64;not null;default:''"`
	SampleTestText    string    `gorm:"column:sample_test_text;type:text;not null;default:''"`
	RejudgeReasonText string    `gorm:"column:rejudge_reason_text;type:text;not null;default:''"`
	RejudgeReasonURL  string    `gorm:"column:rejudge_reason_url;size:512;not null;default:''"`
	RejudgeRequestor  string    `gorm:"column:rejudge_requestor;size:190;not null;default:''"`
	StartTime         time.Time `gorm:"column:start_time"`
	EndTime           time.Time `gorm:"column:end_time"`
}

// TableName provides the explicit table binding for GORM.
func (Contest) TableName() string {
	return "contests"
}
