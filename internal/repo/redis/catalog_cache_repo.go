package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/avikhrest/coursea/backend/internal/domain/model"
)

const publishedCoursesKey = "catalog:published"

type CatalogCacheRepo struct {
	client *goredis.Client
}

func NewCatalogCacheRepo(client *goredis.Client) *CatalogCacheRepo {
	return &CatalogCacheRepo{client: client}
}

// GetPublished returns the cached published course list, or (nil, false)
// on a cache miss. Decode failures are treated as a miss so a poisoned key
// never takes the catalog down.
func (r *CatalogCacheRepo) GetPublished(ctx context.Context) ([]model.Course, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}

	raw, err := r.client.Get(ctx, publishedCoursesKey).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached catalog: %w", err)
	}

	var courses []model.Course
	if err := json.Unmarshal(raw, &courses); err != nil {
		return nil, false, nil
	}

	return courses, true, nil
}

func (r *CatalogCacheRepo) SetPublished(ctx context.Context, courses []model.Course, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid catalog cache ttl")
	}

	raw, err := json.Marshal(courses)
	if err != nil {
		return fmt.Errorf("marshal catalog for cache: %w", err)
	}

	if err := r.client.Set(ctx, publishedCoursesKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set cached catalog: %w", err)
	}

	return nil
}

func (r *CatalogCacheRepo) InvalidatePublished(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, publishedCoursesKey).Err(); err != nil {
		return fmt.Errorf("invalidate cached catalog: %w", err)
	}
	return nil
}
