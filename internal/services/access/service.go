package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/model"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	Upsert(ctx context.Context, userID, courseID string, expiresAt *time.Time) (pgrepo.AccessGrantRecord, error)
	Find(ctx context.Context, userID, courseID string) (pgrepo.AccessGrantRecord, error)
	ListForUser(ctx context.Context, userID string) ([]pgrepo.AccessGrantRecord, error)
}

type Config struct {
	// DefaultDuration bounds a fresh grant; zero means access never
	// expires.
	DefaultDuration time.Duration
}

// Service owns course access grants. Grants are applied by the
// application layer once a purchase reports a verified completed status;
// the purchase orchestrator itself never writes here.
type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (s *Service) Grant(ctx context.Context, userID, courseID string) (model.AccessGrant, error) {
	if s.store == nil {
		return model.AccessGrant{}, fmt.Errorf("access grant store is nil")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(courseID) == "" {
		return model.AccessGrant{}, ErrValidation
	}

	var expiresAt *time.Time
	if s.cfg.DefaultDuration > 0 {
		expiry := s.now().UTC().Add(s.cfg.DefaultDuration)
		expiresAt = &expiry
	}

	record, err := s.store.Upsert(ctx, userID, courseID, expiresAt)
	if err != nil {
		return model.AccessGrant{}, fmt.Errorf("grant course access: %w", err)
	}

	return toGrantModel(record), nil
}

func (s *Service) HasAccess(ctx context.Context, userID, courseID string) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("access grant store is nil")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(courseID) == "" {
		return false, ErrValidation
	}

	record, err := s.store.Find(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrAccessGrantNotFound) {
			return false, nil
		}
		return false, err
	}

	if record.ExpiresAt != nil && !record.ExpiresAt.After(s.now().UTC()) {
		return false, nil
	}
	return true, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.AccessGrant, error) {
	if s.store == nil {
		return nil, fmt.Errorf("access grant store is nil")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrValidation
	}

	records, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	grants := make([]model.AccessGrant, 0, len(records))
	for _, record := range records {
		grants = append(grants, toGrantModel(record))
	}
	return grants, nil
}

func toGrantModel(record pgrepo.AccessGrantRecord) model.AccessGrant {
	return model.AccessGrant{
		ID:        record.ID,
		UserID:    record.UserID,
		CourseID:  record.CourseID,
		ExpiresAt: record.ExpiresAt,
		GrantedAt: record.GrantedAt,
	}
}
