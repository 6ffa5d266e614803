package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCourseNotFound = errors.New("course not found")

type CourseRepo struct {
	pool *pgxpool.Pool
}

type CourseRecord struct {
	ID          string
	Title       string
	Description string
	Price       float64
	CoverKey    *string
	Published   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewCourseRepo(pool *pgxpool.Pool) *CourseRepo {
	return &CourseRepo{pool: pool}
}

func (r *CourseRepo) FindByID(ctx context.Context, courseID string) (CourseRecord, error) {
	if r.pool == nil {
		return CourseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	courseID = strings.ToLower(strings.TrimSpace(courseID))
	if courseID == "" {
		return CourseRecord{}, fmt.Errorf("course id is required")
	}

	record, err := scanCourse(r.pool.QueryRow(ctx, `
SELECT id, title, description, price, cover_key, published, created_at, updated_at
FROM courses
WHERE id = $1
LIMIT 1
`, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseRecord{}, ErrCourseNotFound
		}
		return CourseRecord{}, fmt.Errorf("find course by id: %w", err)
	}

	return record, nil
}

func (r *CourseRepo) ListPublished(ctx context.Context, limit int) ([]CourseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, title, description, price, cover_key, published, created_at, updated_at
FROM courses
WHERE published = TRUE
ORDER BY title
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list published courses: %w", err)
	}
	defer rows.Close()

	var records []CourseRecord
	for rows.Next() {
		record, scanErr := scanCourse(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan course row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course rows: %w", err)
	}

	return records, nil
}

func scanCourse(row pgx.Row) (CourseRecord, error) {
	var record CourseRecord
	if err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Price,
		&record.CoverKey,
		&record.Published,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return CourseRecord{}, err
	}
	return record, nil
}
