package submissions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRejudgeProblemSnapshotsEligibleAndResetsLiveRows(t *testing.T) {
	env := newTestEnv(t)
	judged := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.Score = floatPtr(80)
		s.Judger = "judger-1"
	})
	neverJudged := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusWaiting
		s.JudgeTime = nil
	})
	permanentFailure := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.ResultError = strPtr("Judgement Failed")
	})

	report, err := env.service.RejudgeProblem(context.Background(), 7, RejudgeOptions{Requestor: "root"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Targets != 3 {
		t.Fatalf("expected 3 candidates, got %d", report.Targets)
	}
	if report.Snapshots != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", report.Snapshots)
	}

	var record JudgmentRecord
	if err := env.db.Where("submission_id = ?", judged.ID).Take(&record).Error; err != nil {
		t.Fatalf("expected history snapshot for judged row: %v", err)
	}
	if record.Kind != KindMajor {
		t.Fatalf("expected major snapshot, got %q", record.Kind)
	}
	if record.Score == nil || *record.Score != 80 {
		t.Fatalf("snapshot must keep the actual score, got %v", record.Score)
	}
	if record.Judger != "judger-1" {
		t.Fatalf("snapshot must keep the judger, got %q", record.Judger)
	}

	reset := reloadSubmission(t, env.db, judged.ID)
	if reset.Status != StatusWaitingRejudge {
		t.Fatalf("expected Waiting Rejudge, got %q", reset.Status)
	}
	if reset.JudgeTime != nil {
		t.Fatalf("expected fencing token cleared, got %v", reset.JudgeTime)
	}
	if reset.Score != nil {
		t.Fatalf("expected score cleared, got %v", *reset.Score)
	}
	reason := ReasonDescriptor{}
	if err := json.Unmarshal([]byte(reset.JudgeReason), &reason); err != nil {
		t.Fatalf("judge reason must be structured: %v", err)
	}
	if reason.Requestor != "root" {
		t.Fatalf("expected requestor in reason, got %q", reason.Requestor)
	}

	if count := countJudgments(t, env.db, neverJudged.ID); count != 0 {
		t.Fatalf("never-judged submission must be untouched, found %d rows", count)
	}
	untouched := reloadSubmission(t, env.db, neverJudged.ID)
	if untouched.Status != StatusWaiting {
		t.Fatalf("never-judged submission must keep its status, got %q", untouched.Status)
	}
	if count := countJudgments(t, env.db, permanentFailure.ID); count != 0 {
		t.Fatalf("permanently failed submission must be skipped, found %d rows", count)
	}
}

func TestRejudgeTwiceAppendsOneSnapshotPerRound(t *testing.T) {
	env := newTestEnv(t)
	live := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.Score = floatPtr(100)
	})

	if _, err := env.service.RejudgeProblem(context.Background(), 7, RejudgeOptions{}); err != nil {
		t.Fatalf("first rejudge failed: %v", err)
	}

	// Simulate the judger grading the requeued round before the next rejudge.
	secondRound := judgeTimeT1.Add(3 * time.Hour)
	err := env.db.Model(&Submission{}).Where("id = ?", live.ID).Updates(map[string]any{
		"status":     StatusJudged,
		"judge_time": secondRound,
		"score":      95.0,
	}).Error
	if err != nil {
		t.Fatalf("failed to simulate regrade: %v", err)
	}

	if _, err := env.service.RejudgeProblem(context.Background(), 7, RejudgeOptions{}); err != nil {
		t.Fatalf("second rejudge failed: %v", err)
	}

	if count := countJudgments(t, env.db, live.ID); count != 2 {
		t.Fatalf("expected 2 major snapshots after 2 rejudges, got %d", count)
	}
}

func TestRejudgeProblemACWithoutPerfectScoresIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	live := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.Score = floatPtr(60)
	})

	report, err := env.service.RejudgeProblemAC(context.Background(), 7, RejudgeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Targets != 0 || report.Snapshots != 0 {
		t.Fatalf("expected zero targets and snapshots, got %+v", report)
	}

	stored := reloadSubmission(t, env.db, live.ID)
	if stored.Status != StatusJudged {
		t.Fatalf("live row must be untouched, got status %q", stored.Status)
	}
}

func TestRejudgeSnapshotUsesHiddenScoreWhenFrozen(t *testing.T) {
	env := newTestEnv(t)
	live := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.HideScoreToOthers = true
		s.HiddenScore = floatPtr(100)
	})

	if _, err := env.service.Rejudge(context.Background(), live, RejudgeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var record JudgmentRecord
	if err := env.db.Where("submission_id = ?", live.ID).Take(&record).Error; err != nil {
		t.Fatalf("expected snapshot: %v", err)
	}
	if record.Score == nil || *record.Score != 100 {
		t.Fatalf("snapshot must carry the actual (hidden) score, got %v", record.Score)
	}
}

func TestMinorRejudgeAppendsAnnotationWithoutTouchingLiveRow(t *testing.T) {
	env := newTestEnv(t)
	live := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.Score = floatPtr(70)
	})

	report, err := env.service.Rejudge(context.Background(), live, RejudgeOptions{
		ReasonText: "annotation for audit",
		Minor:      true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Snapshots != 1 {
		t.Fatalf("expected one annotation, got %d", report.Snapshots)
	}

	var record JudgmentRecord
	if err := env.db.Where("submission_id = ?", live.ID).Take(&record).Error; err != nil {
		t.Fatalf("expected annotation row: %v", err)
	}
	if record.Kind != KindMinor {
		t.Fatalf("expected minor kind, got %q", record.Kind)
	}
	if record.JudgeTime != nil {
		t.Fatalf("annotations carry no judge time, got %v", record.JudgeTime)
	}

	stored := reloadSubmission(t, env.db, live.ID)
	if stored.Status != StatusJudged || stored.JudgeTime == nil || stored.Score == nil {
		t.Fatalf("live row must be untouched by a minor rejudge: %+v", stored)
	}
}

func TestRejudgeMergesContestReasonPerGroup(t *testing.T) {
	env := newTestEnv(t)
	contestID := uint64(5)
	env.contests.infos[contestID] = ContestInfo{
		ID: contestID,
		RejudgeReason: ReasonDescriptor{
			Text: "appeal accepted",
			URL:  "https://example.test/appeal/5",
		},
	}
	inContest := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
		s.ContestID = &contestID
	})
	outOfContest := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudged
		s.JudgeTime = timePtr(judgeTimeT1)
	})

	refs := []SubmissionRef{
		{ID: inContest.ID, ContestID: &contestID},
		{ID: outOfContest.ID},
	}
	if _, err := env.service.RejudgeSubmissions(context.Background(), refs, RejudgeOptions{Requestor: "root"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contestRow := reloadSubmission(t, env.db, inContest.ID)
	reason := ReasonDescriptor{}
	if err := json.Unmarshal([]byte(contestRow.JudgeReason), &reason); err != nil {
		t.Fatalf("failed to decode reason: %v", err)
	}
	if !strings.HasPrefix(reason.Text, "appeal accepted: ") {
		t.Fatalf("contest reason must prefix the caller reason, got %q", reason.Text)
	}
	if reason.URL != "https://example.test/appeal/5" {
		t.Fatalf("contest reason URL must be merged, got %q", reason.URL)
	}

	plainRow := reloadSubmission(t, env.db, outOfContest.ID)
	plainReason := ReasonDescriptor{}
	if err := json.Unmarshal([]byte(plainRow.JudgeReason), &plainReason); err != nil {
		t.Fatalf("failed to decode reason: %v", err)
	}
	if strings.Contains(plainReason.Text, "appeal accepted") {
		t.Fatalf("no-contest group must not inherit contest reason, got %q", plainReason.Text)
	}
}

func TestRejudgePartitionsIntoFixedBatches(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 35; i++ {
		seedSubmission(t, env.db, func(s *Submission) {
			s.Status = StatusJudged
			s.JudgeTime = timePtr(judgeTimeT1)
			s.Score = floatPtr(50)
		})
	}

	report, err := env.service.RejudgeProblem(context.Background(), 7, RejudgeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Batches != 3 {
		t.Fatalf("expected 35 targets in 3 batches of 16, got %d", report.Batches)
	}
	if report.Snapshots != 35 {
		t.Fatalf("expected every judged row snapshotted, got %d", report.Snapshots)
	}
}

func TestRejudgedRowAcceptsLateCallbackOnSnapshot(t *testing.T) {
	env := newTestEnv(t)
	live := seedSubmission(t, env.db, func(s *Submission) {
		s.Status = StatusJudging
		s.JudgeTime = timePtr(judgeTimeT1)
	})

	if _, err := env.service.Rejudge(context.Background(), live, RejudgeOptions{}); err != nil {
		t.Fatalf("rejudge failed: %v", err)
	}

	// The callback for the superseded round arrives after the reset: it must
	// land on the snapshot, not on the reset live row.
	outcome := JudgeOutcome{Score: floatPtr(40), Time: 5, Memory: 5}
	if err := env.service.OnJudged(context.Background(), live.ID, outcome, judgeTimeT1); err != nil {
		t.Fatalf("late callback should apply to history: %v", err)
	}

	var record JudgmentRecord
	if err := env.db.Where("submission_id = ?", live.ID).Take(&record).Error; err != nil {
		t.Fatalf("expected snapshot: %v", err)
	}
	if record.Score == nil || *record.Score != 40 {
		t.Fatalf("expected late verdict on snapshot, got %v", record.Score)
	}

	stored := reloadSubmission(t, env.db, live.ID)
	if stored.Status != StatusWaitingRejudge {
		t.Fatalf("live row must stay reset, got %q", stored.Status)
	}
	if stored.Score != nil {
		t.Fatalf("live score must stay cleared, got %v", *stored.Score)
	}
}
