package model

import "time"

type AccessGrant struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	CourseID  string     `json:"course_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
}
