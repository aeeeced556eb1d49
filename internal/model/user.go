package model

import (
	"time"

	"github.com/google/uuid"
)

// Role enum constants — exactly three values, stored on the user row.
const (
	RoleUser     = "user"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role is one of the three defined roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleApprover || role == RoleAdmin
}

// User represents the central user entity for logic and database structure
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	FirstName string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName  string    `gorm:"type:varchar(100);not null" json:"last_name"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"` // Omit credential hash from JSON requests/responses
	Role      string    `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanApprove reports whether the user may be assigned as an approver.
func (u *User) CanApprove() bool {
	return u.Role == RoleApprover || u.Role == RoleAdmin
}

// FullName joins first and last name for display and email salutations.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
