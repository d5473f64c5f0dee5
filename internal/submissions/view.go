package submissions

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// HistoryTimeFormat is the URL form of a judgment timestamp
// (e.g. 2026.07.12-15.04.05).
const HistoryTimeFormat = "2006.01.02-15.04.05"

// View pairs the live submission row with an optional historical overlay.
// The pair is immutable: accessors derive the displayed fields from it, and
// IsLatest/IsMajor/TID compare the overlay against the remembered live row
// instead of mutating anything in place.
type View struct {
	Live    Submission
	Overlay *JudgmentRecord
}

// NewView wraps a live row with no historical overlay.
func NewView(live Submission) *View {
	return &View{Live: live}
}

// IsLatest reports whether the view shows the current grading round: either
// no overlay is loaded, or the overlay is a major snapshot whose judge time
// still equals the live row's.
func (v *View) IsLatest() bool {
	if v.Overlay == nil {
		return true
	}
	if v.Overlay.Kind != KindMajor {
		return false
	}
	return timesEqual(v.Overlay.JudgeTime, v.Live.JudgeTime)
}

// IsMajor reports whether the view shows a full-regrade version.
func (v *View) IsMajor() bool {
	return v.Overlay == nil || v.Overlay.Kind == KindMajor
}

// TID returns the history record id backing the view, 0 for the live version.
func (v *View) TID() uint64 {
	if v.Overlay == nil {
		return 0
	}
	return v.Overlay.TID
}

// Status returns the displayed status for the viewed version.
func (v *View) Status() Status {
	if v.Overlay != nil {
		return v.Overlay.Status
	}
	return v.Live.Status
}

// JudgeTime returns the judgment timestamp of the viewed version.
func (v *View) JudgeTime() *time.Time {
	if v.Overlay != nil {
		return v.Overlay.JudgeTime
	}
	return v.Live.JudgeTime
}

// JudgeReason returns the judgment reason of the viewed version.
func (v *View) JudgeReason() string {
	if v.Overlay != nil {
		return v.Overlay.JudgeReason
	}
	return v.Live.JudgeReason
}

// Result returns the stored result payload of the viewed version.
func (v *View) Result() datatypes.JSON {
	if v.Overlay != nil {
		return v.Overlay.Result
	}
	return v.Live.Result
}

// ResultError returns the judging error of the viewed version, if any.
func (v *View) ResultError() *string {
	if v.Overlay != nil {
		return v.Overlay.ResultError
	}
	return v.Live.ResultError
}

// Score returns the publicly routed score of the viewed version. Historical
// snapshots store the actual score and are always publicly visible, so the
// overlay value is returned as-is.
func (v *View) Score() *float64 {
	if v.Overlay != nil {
		return roundScorePtr(v.Overlay.Score)
	}
	return roundScorePtr(v.Live.Score)
}

// HiddenScore returns the frozen-contest score slot of the viewed version.
// Overlays never carry a hidden score.
func (v *View) HiddenScore() *float64 {
	if v.Overlay != nil {
		return nil
	}
	return roundScorePtr(v.Live.HiddenScore)
}

// HideScoreToOthers reports whether the viewed version withholds its score
// from the public. A loaded overlay is always public.
func (v *View) HideScoreToOthers() bool {
	return v.Overlay == nil && v.Live.HideScoreToOthers
}

// ActualScore resolves the true score of the viewed version server-side.
func (v *View) ActualScore() *float64 {
	if v.Overlay != nil {
		return roundScorePtr(v.Overlay.Score)
	}
	return roundScorePtr(v.Live.ActualScore())
}

// HasFullyJudged reports whether the viewed version is completely graded.
func (v *View) HasFullyJudged() bool {
	return v.Status() == StatusJudged
}

// URI builds the canonical path for the viewed version.
func (v *View) URI() string {
	uri := fmt.Sprintf("/submission/%d", v.Live.ID)
	switch {
	case v.IsLatest():
		return uri
	case v.Overlay.Kind == KindMajor:
		return fmt.Sprintf("%s?time=%s", uri, v.Overlay.JudgeTime.Format(HistoryTimeFormat))
	default:
		return fmt.Sprintf("%s?tid=%d", uri, v.Overlay.TID)
	}
}

// timesEqual compares two nullable timestamps at second precision, which is
// the resolution judge times are stored with.
func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
