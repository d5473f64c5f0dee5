package submissions

import "context"

// ViewerCanSeeScore decides whether the viewer may see the score of the
// viewed version: the submitter always may, anyone may once the score is not
// withheld, and managers of the owning problem or contest may regardless.
// The answer depends on live freeze state and must be recomputed per request.
func (s *Service) ViewerCanSeeScore(ctx context.Context, view *View, viewer Viewer) bool {
	if !view.HideScoreToOthers() {
		return true
	}
	if !viewer.Anonymous() && viewer.Username == view.Live.Submitter {
		return true
	}
	return s.viewerManages(ctx, view, viewer)
}

// UserCanSeeMinorVersions restricts annotation history to elevated viewers.
func (s *Service) UserCanSeeMinorVersions(ctx context.Context, view *View, viewer Viewer) bool {
	if s.access == nil {
		return false
	}
	if s.access.IsSuperUser(ctx, viewer) {
		return true
	}
	return s.viewerManages(ctx, view, viewer)
}

// UserCanRejudge allows a rejudge for super users, and for managers once the
// submission has fully judged.
func (s *Service) UserCanRejudge(ctx context.Context, view *View, viewer Viewer) bool {
	if s.access == nil {
		return false
	}
	if s.access.IsSuperUser(ctx, viewer) {
		return true
	}
	return s.viewerManages(ctx, view, viewer) && view.HasFullyJudged()
}

func (s *Service) viewerManages(ctx context.Context, view *View, viewer Viewer) bool {
	if s.access == nil || viewer.Anonymous() {
		return false
	}
	if s.access.IsSuperUser(ctx, viewer) {
		return true
	}
	if s.access.CanManageProblem(ctx, viewer, view.Live.ProblemID) {
		return true
	}
	if view.Live.ContestID != nil {
		return s.access.CanManageContest(ctx, viewer, *view.Live.ContestID)
	}
	return false
}
