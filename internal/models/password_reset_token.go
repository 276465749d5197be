package models

import "time"

// PasswordResetToken records an issued single-use reset token, keyed by the
// SHA-256 digest of the raw value. ConsumedAt is set exactly once via a
// conditional update; any later redemption of the same token must fail.
type PasswordResetToken struct {
	BaseModel

	UserID     string     `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at"`
}

// Consumed reports whether the token has already been redeemed.
func (t *PasswordResetToken) Consumed() bool {
	return t.ConsumedAt != nil
}
