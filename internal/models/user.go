// Package models provides data models for the model platform.
package models

// User represents a registered platform member
type User struct {
	ID              int64   `json:"id" db:"id"`
	Username        string  `json:"username" db:"username"`
	PasswordHash    string  `json:"-" db:"password"`
	Tokens          int     `json:"tokens" db:"tokens"`
	ComputeProvider bool    `json:"computeProvider" db:"compute_provider"`
	ProfileImageCID *string `json:"profileImageCid,omitempty" db:"profile_image_cid"`
}
