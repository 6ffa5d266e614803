package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avikhrest/coursea/backend/internal/domain/model"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
	accesssvc "github.com/avikhrest/coursea/backend/internal/services/access"
	authsvc "github.com/avikhrest/coursea/backend/internal/services/auth"
	purchasesvc "github.com/avikhrest/coursea/backend/internal/services/purchases"
	ratesvc "github.com/avikhrest/coursea/backend/internal/services/rate"
	"github.com/avikhrest/coursea/backend/internal/transport/http/dto"
	httperrors "github.com/avikhrest/coursea/backend/internal/transport/http/errors"
)

type PurchaseHandler struct {
	purchases *purchasesvc.Service
	access    *accesssvc.Service
	limiter   *ratesvc.Limiter
}

func NewPurchaseHandler(purchases *purchasesvc.Service, access *accesssvc.Service) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		access:    access,
	}
}

func (h *PurchaseHandler) AttachLimiter(limiter *ratesvc.Limiter) {
	h.limiter = limiter
}

func (h *PurchaseHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	if h.limiter != nil {
		retryAfter, allowed, err := h.limiter.AllowCheckout(r.Context(), identity.UserID)
		if err == nil && !allowed {
			httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
				Code:          "RATE_LIMITED",
				Message:       "too many checkout attempts",
				RetryAfterSec: retryAfter,
			})
			return
		}
	}

	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result := h.purchases.ProcessPurchase(r.Context(), purchasesvc.ProcessInput{
		UserID:        identity.UserID,
		CourseID:      req.CourseID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Timeout:       time.Duration(req.TimeoutMS) * time.Millisecond,
		MaxRetries:    req.MaxRetries,
	})

	if result.Success && h.access != nil {
		// A failed grant here is backfilled by the reconcile job.
		_, _ = h.access.Grant(r.Context(), identity.UserID, req.CourseID)
	}

	httperrors.Write(w, http.StatusOK, dto.CheckoutResponse{
		Success:    result.Success,
		PurchaseID: result.PurchaseID,
		Status:     string(result.Status),
		Error:      result.Error,
		Details:    result.Details,
	})
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	purchaseID := chi.URLParam(r, "id")
	purchase, err := h.purchases.GetForUser(r.Context(), purchaseID, identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		case errors.Is(err, pgrepo.ErrPurchaseNotFound):
			httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
				Code:    "PURCHASE_NOT_FOUND",
				Message: "purchase not found",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, toPurchaseResponse(purchase))
}

func (h *PurchaseHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	purchases, err := h.purchases.ListForUser(r.Context(), identity.UserID, limit)
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchases request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchases")
		}
		return
	}

	items := make([]dto.PurchaseResponse, 0, len(purchases))
	for _, purchase := range purchases {
		items = append(items, toPurchaseResponse(purchase))
	}
	httperrors.Write(w, http.StatusOK, dto.PurchaseListResponse{Purchases: items})
}

func toPurchaseResponse(purchase model.Purchase) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		ID:            purchase.ID,
		CourseID:      purchase.CourseID,
		Amount:        purchase.Amount,
		Status:        string(purchase.Status),
		StatusReason:  purchase.StatusReason,
		PaymentMethod: string(purchase.PaymentMethod),
		CreatedAt:     purchase.CreatedAt,
		UpdatedAt:     purchase.UpdatedAt,
	}
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
