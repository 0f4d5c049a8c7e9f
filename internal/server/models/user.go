// Package models defines the server-side data models shared by the services
// and the access layer.
package models

import "time"

// User is a registered account. Email is stored lower-cased; ID and Email
// never change after registration.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session binds a bearer token to a user. The token itself is never stored;
// sessions are keyed by its digest.
type Session struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
