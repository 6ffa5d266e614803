package model

import (
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
)

type Purchase struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	CourseID      string               `json:"course_id"`
	Amount        float64              `json:"amount"`
	Status        enums.PurchaseStatus `json:"status"`
	StatusReason  *string              `json:"status_reason,omitempty"`
	PaymentMethod enums.PaymentMethod  `json:"payment_method"`
	Version       int                  `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}
