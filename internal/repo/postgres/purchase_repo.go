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

var ErrPurchaseNotFound = errors.New("purchase not found")

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

type PurchaseRecord struct {
	ID            string
	UserID        string
	CourseID      string
	Amount        float64
	Status        string
	StatusReason  *string
	PaymentMethod string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) CreatePending(ctx context.Context, userID, courseID string, amount float64, paymentMethod string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	userID = strings.TrimSpace(userID)
	courseID = strings.ToLower(strings.TrimSpace(courseID))
	paymentMethod = strings.ToLower(strings.TrimSpace(paymentMethod))
	if userID == "" || courseID == "" || paymentMethod == "" || amount <= 0 {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase create payload")
	}

	purchaseID := uuid.NewString()
	record, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	id,
	user_id,
	course_id,
	amount,
	status,
	payment_method,
	version,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, 'pending', $5, 1, NOW(), NOW())
RETURNING id, user_id, course_id, amount, status, status_reason, payment_method, version, created_at, updated_at
`, purchaseID, userID, courseID, amount, paymentMethod))
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("create pending purchase: %w", err)
	}

	return record, nil
}

// FindForUser is a point lookup scoped to the owning user. Cross-user reads
// are never served from here.
func (r *PurchaseRepo) FindForUser(ctx context.Context, purchaseID, userID string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	userID = strings.TrimSpace(userID)
	if purchaseID == "" || userID == "" {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase lookup payload")
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT id, user_id, course_id, amount, status, status_reason, payment_method, version, created_at, updated_at
FROM purchases
WHERE id = $1
  AND user_id = $2
LIMIT 1
`, purchaseID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase for user: %w", err)
	}

	return record, nil
}

// TransitionStatus invokes the atomic server-side transition procedure.
// The stored function applies the update only when the live row still has
// the caller's status and version, bumping version by one; a false return
// means the preconditions no longer match and the caller must re-read.
func (r *PurchaseRepo) TransitionStatus(
	ctx context.Context,
	purchaseID, userID string,
	currentStatus, newStatus string,
	version int,
	reason string,
) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	userID = strings.TrimSpace(userID)
	currentStatus = strings.ToLower(strings.TrimSpace(currentStatus))
	newStatus = strings.ToLower(strings.TrimSpace(newStatus))
	if purchaseID == "" || userID == "" || currentStatus == "" || newStatus == "" || version <= 0 {
		return false, fmt.Errorf("invalid status transition payload")
	}

	var applied bool
	err := r.pool.QueryRow(ctx, `
SELECT update_purchase_status($1, $2, $3, $4, $5, $6)
`, purchaseID, userID, currentStatus, newStatus, version, nullableReason(reason)).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("call update_purchase_status: %w", err)
	}

	return applied, nil
}

func (r *PurchaseRepo) ListForUser(ctx context.Context, userID string, limit int) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, course_id, amount, status, status_reason, payment_method, version, created_at, updated_at
FROM purchases
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases for user: %w", err)
	}
	defer rows.Close()

	var records []PurchaseRecord
	for rows.Next() {
		record, scanErr := scanPurchase(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan purchase row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}

	return records, nil
}

// ListStalePending returns pending rows older than the cutoff, the ones a
// crashed or timed-out checkout left behind.
func (r *PurchaseRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, course_id, amount, status, status_reason, payment_method, version, created_at, updated_at
FROM purchases
WHERE status = 'pending'
  AND updated_at < $1
ORDER BY updated_at
LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending purchases: %w", err)
	}
	defer rows.Close()

	return collectPurchases(rows)
}

// ListCompletedWithoutAccess returns completed purchases whose access grant
// is missing, so the reconcile job can backfill it.
func (r *PurchaseRepo) ListCompletedWithoutAccess(ctx context.Context, limit int) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.user_id, p.course_id, p.amount, p.status, p.status_reason, p.payment_method, p.version, p.created_at, p.updated_at
FROM purchases p
LEFT JOIN course_access_grants g
  ON g.user_id = p.user_id
 AND g.course_id = p.course_id
WHERE p.status = 'completed'
  AND g.id IS NULL
ORDER BY p.updated_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed purchases without access: %w", err)
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func collectPurchases(rows pgx.Rows) ([]PurchaseRecord, error) {
	var records []PurchaseRecord
	for rows.Next() {
		record, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}
	return records, nil
}

func scanPurchase(row pgx.Row) (PurchaseRecord, error) {
	var record PurchaseRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.CourseID,
		&record.Amount,
		&record.Status,
		&record.StatusReason,
		&record.PaymentMethod,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	return record, nil
}

func nullableReason(reason string) any {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	return reason
}
