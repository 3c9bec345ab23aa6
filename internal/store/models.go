package store

import "time"

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	IsEmailConfirmed      bool
	ConfirmationToken     string
	ConfirmationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
