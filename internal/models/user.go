package models

import "time"

// Role flags carried on an account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the owned aggregate behind the credit ledger. Balance and
// LifetimeCredits are only ever written by the ledger.
type Account struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	DisplayName     string     `json:"displayName"`
	PasswordHash    string     `json:"passwordHash"`
	Role            string     `json:"role"`
	Active          bool       `json:"active"`
	Balance         int64      `json:"balance"`
	LifetimeCredits int64      `json:"lifetimeCredits"`
	Version         int        `json:"version"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsAdmin reports whether the account carries the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Profile is the public view of an account; it never carries the hash.
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	Role            string    `json:"role"`
	Balance         int64     `json:"balance"`
	LifetimeCredits int64     `json:"lifetimeCredits"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (a *Account) Profile() Profile {
	return Profile{
		ID:              a.ID,
		Email:           a.Email,
		DisplayName:     a.DisplayName,
		Role:            a.Role,
		Balance:         a.Balance,
		LifetimeCredits: a.LifetimeCredits,
		CreatedAt:       a.CreatedAt,
	}
}
