package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles recognised by the platform.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// User describes a platform account. The auth core treats it as an opaque
// identity plus role tag; profile fields are carried for the /me surface.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FullName string `json:"full_name"`
	Role     string `gorm:"not null;default:student" json:"role"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
