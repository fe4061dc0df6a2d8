package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the access level attached to a user account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a registered vehicle owner.
type User struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	CarNumber    string          `json:"car_number"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	Role         Role            `json:"role"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// NewUser holds the fields needed to insert a user.
type NewUser struct {
	Name         string
	CarNumber    string
	Email        string
	PasswordHash string
	Balance      decimal.Decimal
	Role         Role
}

// NormalizeEmail lower-cases and trims an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCarNumber upper-cases a registration plate and drops whitespace,
// so "ka 01 ab 1234" and "KA01AB1234" name the same vehicle.
func NormalizeCarNumber(car string) string {
	return strings.ToUpper(strings.Join(strings.Fields(car), ""))
}
