package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAccessGrantNotFound = errors.New("access grant not found")

type AccessGrantRepo struct {
	pool *pgxpool.Pool
}

type AccessGrantRecord struct {
	ID        string
	UserID    string
	CourseID  string
	ExpiresAt *time.Time
	GrantedAt time.Time
}

func NewAccessGrantRepo(pool *pgxpool.Pool) *AccessGrantRepo {
	return &AccessGrantRepo{pool: pool}
}

// Upsert keeps one grant per (user, course). A repeated grant refreshes the
// expiry instead of inserting a duplicate row.
func (r *AccessGrantRepo) Upsert(ctx context.Context, userID, courseID string, expiresAt *time.Time) (AccessGrantRecord, error) {
	if r.pool == nil {
		return AccessGrantRecord{}, fmt.Errorf("postgres pool is nil")
	}
	userID = strings.TrimSpace(userID)
	courseID = strings.ToLower(strings.TrimSpace(courseID))
	if userID == "" || courseID == "" {
		return AccessGrantRecord{}, fmt.Errorf("invalid access grant payload")
	}

	grantID := uuid.NewString()
	record, err := scanAccessGrant(r.pool.QueryRow(ctx, `
INSERT INTO course_access_grants (
	id,
	user_id,
	course_id,
	expires_at,
	granted_at
) VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id, course_id) DO UPDATE
SET expires_at = EXCLUDED.expires_at
RETURNING id, user_id, course_id, expires_at, granted_at
`, grantID, userID, courseID, expiresAt))
	if err != nil {
		return AccessGrantRecord{}, fmt.Errorf("upsert access grant: %w", err)
	}

	return record, nil
}

func (r *AccessGrantRepo) Find(ctx context.Context, userID, courseID string) (AccessGrantRecord, error) {
	if r.pool == nil {
		return AccessGrantRecord{}, fmt.Errorf("postgres pool is nil")
	}
	userID = strings.TrimSpace(userID)
	courseID = strings.ToLower(strings.TrimSpace(courseID))
	if userID == "" || courseID == "" {
		return AccessGrantRecord{}, fmt.Errorf("invalid access grant lookup payload")
	}

	record, err := scanAccessGrant(r.pool.QueryRow(ctx, `
SELECT id, user_id, course_id, expires_at, granted_at
FROM course_access_grants
WHERE user_id = $1
  AND course_id = $2
LIMIT 1
`, userID, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccessGrantRecord{}, ErrAccessGrantNotFound
		}
		return AccessGrantRecord{}, fmt.Errorf("find access grant: %w", err)
	}

	return record, nil
}

func (r *AccessGrantRepo) ListForUser(ctx context.Context, userID string) ([]AccessGrantRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, course_id, expires_at, granted_at
FROM course_access_grants
WHERE user_id = $1
ORDER BY granted_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list access grants: %w", err)
	}
	defer rows.Close()

	var records []AccessGrantRecord
	for rows.Next() {
		record, scanErr := scanAccessGrant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan access grant row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access grant rows: %w", err)
	}

	return records, nil
}

func scanAccessGrant(row pgx.Row) (AccessGrantRecord, error) {
	var record AccessGrantRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.CourseID,
		&record.ExpiresAt,
		&record.GrantedAt,
	); err != nil {
		return AccessGrantRecord{}, err
	}
	return record, nil
}
