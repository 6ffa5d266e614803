package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	accesssvc "github.com/avikhrest/coursea/backend/internal/services/access"
	authsvc "github.com/avikhrest/coursea/backend/internal/services/auth"
	"github.com/avikhrest/coursea/backend/internal/transport/http/dto"
	httperrors "github.com/avikhrest/coursea/backend/internal/transport/http/errors"
)

type AccessHandler struct {
	access *accesssvc.Service
}

func NewAccessHandler(access *accesssvc.Service) *AccessHandler {
	return &AccessHandler{access: access}
}

func (h *AccessHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.access == nil {
		writeInternal(w, "ACCESS_SERVICE_UNAVAILABLE", "access service is unavailable")
		return
	}

	grants, err := h.access.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, accesssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid access request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load access grants")
		}
		return
	}

	items := make([]dto.AccessGrantResponse, 0, len(grants))
	for _, grant := range grants {
		items = append(items, dto.AccessGrantResponse{
			CourseID:  grant.CourseID,
			ExpiresAt: grant.ExpiresAt,
			GrantedAt: grant.GrantedAt,
		})
	}
	httperrors.Write(w, http.StatusOK, dto.AccessListResponse{Grants: items})
}

func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.access == nil {
		writeInternal(w, "ACCESS_SERVICE_UNAVAILABLE", "access service is unavailable")
		return
	}

	courseID := chi.URLParam(r, "course_id")
	hasAccess, err := h.access.HasAccess(r.Context(), identity.UserID, courseID)
	if err != nil {
		switch {
		case errors.Is(err, accesssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to check access")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AccessCheckResponse{
		CourseID:  courseID,
		HasAccess: hasAccess,
	})
}
