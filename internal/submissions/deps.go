package submissions

import "context"

// Viewer identifies who is looking at a submission. The zero value is an
// anonymous viewer; permission checks always take the viewer explicitly and
// must be recomputed per request.
type Viewer struct {
	Username string
}

// Anonymous reports whether no authenticated user backs the viewer.
func (v Viewer) Anonymous() bool {
	return v.Username == ""
}

// AccessPolicy answers elevated-permission questions for a viewer. The
// implementation lives outside the lifecycle core.
type AccessPolicy interface {
	IsSuperUser(ctx context.Context, viewer Viewer) bool
	CanManageProblem(ctx context.Context, viewer Viewer, problemID uint64) bool
	CanManageContest(ctx context.Context, viewer Viewer, contestID uint64) bool
}

// ReasonDescriptor is a structured rejudge justification.
type ReasonDescriptor struct {
	Text      string `json:"text"`
	Requestor string `json:"requestor"`
	URL       string `json:"url,omitempty"`
}

// ContestInfo is the slice of contest state the lifecycle core consults.
type ContestInfo struct {
	ID             uint64
	Frozen         bool
	JudgeType      string
	SampleTestText string
	RejudgeReason  ReasonDescriptor
}

// ContestDirectory resolves contest state for uploads and rejudge grouping.
type ContestDirectory interface {
	Lookup(ctx context.Context, contestID uint64) (ContestInfo, error)
}

// BestACUpdater recomputes the per-user-per-problem best accepted submission.
// Refresh runs outside the core transaction and must be idempotent.
type BestACUpdater interface {
	Refresh(ctx context.Context, submitter string, problemID uint64) error
}

// BlobStore removes stored submission archives; used for cleanup when an
// upload fails after the blob was written, and on submission deletion.
type BlobStore interface {
	Unlink(name string) error
}
