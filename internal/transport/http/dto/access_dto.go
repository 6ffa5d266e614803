package dto

import "time"

type AccessGrantResponse struct {
	CourseID  string     `json:"course_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
}

type AccessListResponse struct {
	Grants []AccessGrantResponse `json:"grants"`
}

type AccessCheckResponse struct {
	CourseID  string `json:"course_id"`
	HasAccess bool   `json:"has_access"`
}
