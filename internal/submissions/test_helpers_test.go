package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type stubContestDirectory struct {
	infos map[uint64]ContestInfo
}

func (d *stubContestDirectory) Lookup(_ context.Context, contestID uint64) (ContestInfo, error) {
	info, ok := d.infos[contestID]
	if !ok {
		return ContestInfo{}, fmt.Errorf("contest %d not found", contestID)
	}
	return info, nil
}

type recordingBestAC struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingBestAC) Refresh(_ context.Context, submitter string, problemID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s/%d", submitter, problemID))
	return nil
}

func (r *recordingBestAC) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingBlobs struct {
	unlinked []string
}

func (b *recordingBlobs) Unlink(name string) error {
	b.unlinked = append(b.unlinked, name)
	return nil
}

type stubAccessPolicy struct {
	superUsers      map[string]bool
	problemManagers map[string]bool
	contestManagers map[string]bool
}

func (p *stubAccessPolicy) IsSuperUser(_ context.Context, viewer Viewer) bool {
	return p.superUsers[viewer.Username]
}

func (p *stubAccessPolicy) CanManageProblem(_ context.Context, viewer Viewer, problemID uint64) bool {
	return p.problemManagers[fmt.Sprintf("%s/%d", viewer.Username, problemID)]
}

func (p *stubAccessPolicy) CanManageContest(_ context.Context, viewer Viewer, contestID uint64) bool {
	return p.contestManagers[fmt.Sprintf("%s/%d", viewer.Username, contestID)]
}

type testEnv struct {
	service  *Service
	db       *gorm.DB
	bestAC   *recordingBestAC
	blobs    *recordingBlobs
	access   *stubAccessPolicy
	contests *stubContestDirectory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:gavel_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Submission{}, &JudgmentRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	bestAC := &recordingBestAC{}
	blobs := &recordingBlobs{}
	access := &stubAccessPolicy{
		superUsers:      map[string]bool{},
		problemManagers: map[string]bool{},
		contestManagers: map[string]bool{},
	}
	directory := &stubContestDirectory{infos: map[uint64]ContestInfo{}}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Date(2026, 7, 18, 12, 0, 0, 0, time.UTC) },
		Contests: directory,
		Access:   access,
		BestAC:   bestAC,
		Blobs:    blobs,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	return &testEnv{
		service:  service,
		db:       db,
		bestAC:   bestAC,
		blobs:    blobs,
		access:   access,
		contests: directory,
	}
}

func floatPtr(value float64) *float64 {
	return &value
}

func strPtr(value string) *string {
	return &value
}

func timePtr(value time.Time) *time.Time {
	utc := value.UTC().Truncate(time.Second)
	return &utc
}

func mustJSON(t *testing.T, value any) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed to encode json: %v", err)
	}
	return datatypes.JSON(raw)
}

// seedSubmission inserts a live row with sensible defaults overridden by mutate.
func seedSubmission(t *testing.T, db *gorm.DB, mutate func(*Submission)) *Submission {
	t.Helper()
	submission := Submission{
		ProblemID:  7,
		Submitter:  "alice",
		Content:    datatypes.JSON(`{"config":[["problem_id",7]]}`),
		Language:   "C++",
		Status:     StatusJudging,
		Result:     datatypes.JSON(`{}`),
		SubmitTime: time.Date(2026, 7, 18, 11, 0, 0, 0, time.UTC),
		TotSize:    1024,
	}
	if mutate != nil {
		mutate(&submission)
	}
	if err := db.Create(&submission).Error; err != nil {
		t.Fatalf("failed to seed submission: %v", err)
	}
	return &submission
}

func reloadSubmission(t *testing.T, db *gorm.DB, id uint64) *Submission {
	t.Helper()
	var submission Submission
	if err := db.Where("id = ?", id).Take(&submission).Error; err != nil {
		t.Fatalf("failed to reload submission %d: %v", id, err)
	}
	return &submission
}

func countJudgments(t *testing.T, db *gorm.DB, submissionID uint64) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&JudgmentRecord{}).Where("submission_id = ?", submissionID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count judgment records: %v", err)
	}
	return count
}
