package config

import (
	"errors"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"p9e.in/gridops/models"
)

// SeedBootstrapUsers creates the initial super admin if no admin exists.
// The reserved "system" actor is not a row here: it only ever appears as
// an actor id on audit log entries and is never authenticated.
func SeedBootstrapUsers(db *gorm.DB) error {
	var admin models.User
	err := db.Where("role = ?", models.RoleSuperAdmin).First(&admin).Error
	if err == nil {
		return nil // already seeded
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")
	if password == "" {
		log.Println("ADMIN_BOOTSTRAP_PASSWORD not set, skipping super admin seed")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin = models.User{
		Name:         "Administrator",
		Phone:        os.Getenv("ADMIN_BOOTSTRAP_PHONE"),
		PasswordHash: string(hash),
		Role:         models.RoleSuperAdmin,
		IsActive:     true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Println("Seeded bootstrap super admin")
	return nil
}
