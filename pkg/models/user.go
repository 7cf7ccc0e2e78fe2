package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// User is the identity record a link attaches to.
// Email is stored case-folded; the password column holds a bcrypt hash.
type User struct {
	ID              string                         `json:"id" db:"id"`
	Username        string                         `json:"username" db:"username"`
	Email           string                         `json:"email" db:"email"`
	Password        string                         `json:"-" db:"password"`
	EmailVerifiedAt *time.Time                     `json:"email_verified_at,omitempty" db:"email_verified_at"`
	Props           database.JSONB[map[string]any] `json:"props" db:"props"`
	CreatedAt       time.Time                      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time                      `json:"updated_at" db:"updated_at"`
}

// UserInput is the partial identity payload accepted on a store call. The
// identity resolver finds an existing user by case-folded email or creates a
// new record from it.
type UserInput struct {
	ID       string `json:"id" validate:"omitempty,uuid"`
	Username string `json:"username"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`
}
