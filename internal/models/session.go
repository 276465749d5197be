package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session represents one active refresh lineage for one user on one device.
// Only the SHA-256 digest of the current refresh token is stored, never the
// raw value. RotationCounter increments on every successful rotation and is
// the compare-and-swap guard against concurrent redemptions.
type Session struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID           string `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RefreshTokenHash string `gorm:"uniqueIndex;not null" json:"-"`
	RotationCounter  int64  `gorm:"not null;default:0" json:"rotation_counter"`

	// Diagnostic only; never consulted for authorization decisions.
	DeviceInfo string `json:"device_info"`
	IPAddress  string `json:"ip_address"`

	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
	IsActive   bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
