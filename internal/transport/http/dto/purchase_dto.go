package dto

import "time"

type CheckoutRequest struct {
	CourseID      string  `json:"course_id"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	TimeoutMS     int64   `json:"timeout_ms,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
}

type CheckoutResponse struct {
	Success    bool           `json:"success"`
	PurchaseID string         `json:"purchase_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

type PurchaseResponse struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"course_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	StatusReason  *string   `json:"status_reason,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type PurchaseListResponse struct {
	Purchases []PurchaseResponse `json:"purchases"`
}
