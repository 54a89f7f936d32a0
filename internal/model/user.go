package model

import "time"

// User owns API keys and webhook endpoints.
// Superusers are created by the CLI and hold an unlimited admin key.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}
