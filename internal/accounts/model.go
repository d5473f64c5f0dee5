package accounts

import (
	"strings"
	"time"
)

// User is a platform account with its global privilege flag.
type User struct {
	Username    string    `gorm:"column:username;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	SuperUser   bool      `gorm:"column:super_user;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// ProblemPermission grants a user management rights over one problem.
type ProblemPermission struct {
	ProblemID uint64 `gorm:"column:problem_id;primaryKey"`
	Username  string `gorm:"column:username;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProblemPermission) TableName() string {
	return "problems_permissions"
}

// ContestPermission grants a user management rights over one contest.
type ContestPermission struct {
	ContestID uint64 `gorm:"column:contest_id;primaryKey"`
	Username  string `gorm:"column:username;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContestPermission) TableName() string {
	return "contests_permissions"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
