package accounts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gavel-oj/gavel/internal/submissions"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:gavel_accounts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &ProblemPermission{}, &ContestPermission{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func TestIsSuperUser(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := db.Create(&User{Username: "root", SuperUser: true}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := db.Create(&User{Username: "alice"}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	if !service.IsSuperUser(ctx, submissions.Viewer{Username: "root"}) {
		t.Fatalf("flagged account must be a super user")
	}
	if service.IsSuperUser(ctx, submissions.Viewer{Username: "alice"}) {
		t.Fatalf("ordinary account must not be a super user")
	}
	if service.IsSuperUser(ctx, submissions.Viewer{Username: "nobody"}) {
		t.Fatalf("unknown account must not be a super user")
	}
	if service.IsSuperUser(ctx, submissions.Viewer{}) {
		t.Fatalf("anonymous viewer must not be a super user")
	}
}

func TestSuperUserLookupIsCached(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := db.Create(&User{Username: "root", SuperUser: true}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if !service.IsSuperUser(ctx, submissions.Viewer{Username: "root"}) {
		t.Fatalf("flagged account must be a super user")
	}

	// Demoting the row does not invalidate the process-lifetime cache.
	if err := db.Model(&User{}).Where("username = ?", "root").Update("super_user", false).Error; err != nil {
		t.Fatalf("failed to demote user: %v", err)
	}
	if !service.IsSuperUser(ctx, submissions.Viewer{Username: "root"}) {
		t.Fatalf("cached answer must survive the demotion")
	}
}

func TestCanManageProblemAndContest(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := db.Create(&ProblemPermission{ProblemID: 7, Username: "prof"}).Error; err != nil {
		t.Fatalf("failed to seed problem permission: %v", err)
	}
	if err := db.Create(&ContestPermission{ContestID: 5, Username: "marshal"}).Error; err != nil {
		t.Fatalf("failed to seed contest permission: %v", err)
	}

	if !service.CanManageProblem(ctx, submissions.Viewer{Username: "prof"}, 7) {
		t.Fatalf("permission row must grant problem management")
	}
	if service.CanManageProblem(ctx, submissions.Viewer{Username: "prof"}, 8) {
		t.Fatalf("permission must be scoped to the problem")
	}
	if service.CanManageProblem(ctx, submissions.Viewer{Username: "alice"}, 7) {
		t.Fatalf("unrelated account must not manage the problem")
	}

	if !service.CanManageContest(ctx, submissions.Viewer{Username: "marshal"}, 5) {
		t.Fatalf("permission row must grant contest management")
	}
	if service.CanManageContest(ctx, submissions.Viewer{}, 5) {
		t.Fatalf("anonymous viewer must not manage the contest")
	}
}
