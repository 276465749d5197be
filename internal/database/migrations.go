package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.PasswordResetToken{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedData provisions the initial administrator account when no admin exists.
// The password must be rotated immediately; it is only meant for first boot.
func SeedData(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword("changeme")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:    "admin@learnhub.local",
		Password: hashed,
		FullName: "Administrator",
		Role:     models.RoleAdmin,
		IsActive: true,
	}

	return db.Where(models.User{Email: admin.Email}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}
