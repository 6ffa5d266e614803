package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avikhrest/coursea/backend/internal/domain/model"
	catalogsvc "github.com/avikhrest/coursea/backend/internal/services/catalog"
	"github.com/avikhrest/coursea/backend/internal/transport/http/dto"
	httperrors "github.com/avikhrest/coursea/backend/internal/transport/http/errors"
)

type CatalogHandler struct {
	catalog *catalogsvc.Service
}

func NewCatalogHandler(catalog *catalogsvc.Service) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courses, err := h.catalog.ListPublished(r.Context())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load courses")
		return
	}

	items := make([]dto.CourseResponse, 0, len(courses))
	for _, course := range courses {
		items = append(items, toCourseResponse(course))
	}
	httperrors.Write(w, http.StatusOK, dto.CourseListResponse{Courses: items})
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courseID := chi.URLParam(r, "id")
	course, err := h.catalog.Get(r.Context(), courseID)
	if err != nil {
		switch {
		case errors.Is(err, catalogsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		case errors.Is(err, catalogsvc.ErrCourseNotFound):
			httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
				Code:    "COURSE_NOT_FOUND",
				Message: "course not found",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load course")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, toCourseResponse(course))
}

func toCourseResponse(course model.Course) dto.CourseResponse {
	return dto.CourseResponse{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		Price:       course.Price,
		CoverURL:    course.CoverURL,
	}
}
