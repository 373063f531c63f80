package Models

import "gorm.io/gorm"

// User is a back-office account. Permission gates dispatcher routes.
type User struct {
	gorm.Model
	Name       string `json:"name"`
	Email      string `json:"email" gorm:"uniqueIndex"`
	Password   []byte `json:"-"`
	Permission int    `json:"permission"`
	IsApproved int    `json:"is_approved"`
}

// Driver accounts are keyed by name and phone, not by a strong id.
type Driver struct {
	gorm.Model
	Name         string `json:"name" gorm:"index"`
	Phone        string `json:"phone"`
	PasswordHash []byte `json:"-"`
	Active       bool   `json:"active"`
}

// DriverProfile is the identity a signed-in driver acts under.
type DriverProfile struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
