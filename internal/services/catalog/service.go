package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/model"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
)

const defaultCacheTTL = 5 * time.Minute

var (
	ErrValidation     = errors.New("validation error")
	ErrCourseNotFound = errors.New("course not found")
)

type Store interface {
	FindByID(ctx context.Context, courseID string) (pgrepo.CourseRecord, error)
	ListPublished(ctx context.Context, limit int) ([]pgrepo.CourseRecord, error)
}

type Cache interface {
	GetPublished(ctx context.Context) ([]model.Course, bool, error)
	SetPublished(ctx context.Context, courses []model.Course, ttl time.Duration) error
}

type ContentStorage interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	CacheTTL     time.Duration
	CoverLinkTTL time.Duration
}

// Service serves the course catalog the storefront browses. Published
// listings are read through a redis cache; course covers are signed links
// into object storage.
type Service struct {
	store   Store
	cache   Cache
	content ContentStorage
	cfg     Config
}

func NewService(store Store, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CoverLinkTTL <= 0 {
		cfg.CoverLinkTTL = time.Hour
	}

	return &Service{
		store: store,
		cfg:   cfg,
	}
}

func (s *Service) AttachCache(cache Cache) {
	s.cache = cache
}

func (s *Service) AttachContentStorage(content ContentStorage) {
	s.content = content
}

func (s *Service) ListPublished(ctx context.Context) ([]model.Course, error) {
	if s.store == nil {
		return nil, fmt.Errorf("course store is nil")
	}

	if s.cache != nil {
		if courses, hit, err := s.cache.GetPublished(ctx); err == nil && hit {
			return courses, nil
		}
	}

	records, err := s.store.ListPublished(ctx, 0)
	if err != nil {
		return nil, err
	}

	courses := make([]model.Course, 0, len(records))
	for _, record := range records {
		courses = append(courses, s.toCourseModel(ctx, record))
	}

	if s.cache != nil {
		_ = s.cache.SetPublished(ctx, courses, s.cfg.CacheTTL)
	}

	return courses, nil
}

func (s *Service) Get(ctx context.Context, courseID string) (model.Course, error) {
	if s.store == nil {
		return model.Course{}, fmt.Errorf("course store is nil")
	}
	if strings.TrimSpace(courseID) == "" {
		return model.Course{}, ErrValidation
	}

	record, err := s.store.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return model.Course{}, ErrCourseNotFound
		}
		return model.Course{}, err
	}

	return s.toCourseModel(ctx, record), nil
}

func (s *Service) toCourseModel(ctx context.Context, record pgrepo.CourseRecord) model.Course {
	course := model.Course{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Price:       record.Price,
		Published:   record.Published,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}

	if record.CoverKey != nil && *record.CoverKey != "" {
		course.CoverKey = *record.CoverKey
		if s.content != nil {
			if link, err := s.content.PresignGet(ctx, *record.CoverKey, s.cfg.CoverLinkTTL); err == nil {
				course.CoverURL = link
			}
		}
	}

	return course
}
