package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
	"github.com/avikhrest/coursea/backend/internal/domain/model"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultBatchSize  = 200

	staleReason = "Expired by reconcile job"
)

type PurchaseStore interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]pgrepo.PurchaseRecord, error)
	ListCompletedWithoutAccess(ctx context.Context, limit int) ([]pgrepo.PurchaseRecord, error)
	TransitionStatus(ctx context.Context, purchaseID, userID, currentStatus, newStatus string, version int, reason string) (bool, error)
}

type AccessGranter interface {
	Grant(ctx context.Context, userID, courseID string) (model.AccessGrant, error)
}

// Job sweeps up after interrupted checkouts: stale pending purchases are
// failed through the same compare-and-swap transition the live path uses,
// and completed purchases that lost their access grant get one backfilled.
type Job struct {
	purchases  PurchaseStore
	access     AccessGranter
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	logger     *zap.Logger
}

func NewJob(purchases PurchaseStore, access AccessGranter, staleAfter time.Duration, logger *zap.Logger) *Job {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		purchases:  purchases,
		access:     access,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		now:        time.Now,
		logger:     logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.purchases == nil {
		return nil
	}

	if err := j.failStalePending(ctx); err != nil {
		return err
	}
	return j.backfillAccess(ctx)
}

func (j *Job) failStalePending(ctx context.Context) error {
	cutoff := j.now().Add(-j.staleAfter)
	records, err := j.purchases.ListStalePending(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending purchases: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	failed := 0
	for _, record := range records {
		applied, err := j.purchases.TransitionStatus(
			ctx,
			record.ID,
			record.UserID,
			string(enums.PurchaseStatusPending),
			string(enums.PurchaseStatusFailed),
			record.Version,
			staleReason,
		)
		if err != nil {
			j.logger.Warn("failed to expire stale purchase",
				zap.Error(err),
				zap.String("purchase_id", record.ID),
			)
			continue
		}
		// A lost race means someone else settled the row. That is fine.
		if applied {
			failed++
		}
	}

	if failed > 0 {
		j.logger.Info("stale pending purchases expired", zap.Int("count", failed))
	}
	return nil
}

func (j *Job) backfillAccess(ctx context.Context) error {
	if j.access == nil {
		return nil
	}

	records, err := j.purchases.ListCompletedWithoutAccess(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("list completed purchases without access: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	granted := 0
	for _, record := range records {
		if _, err := j.access.Grant(ctx, record.UserID, record.CourseID); err != nil {
			j.logger.Warn("failed to backfill access grant",
				zap.Error(err),
				zap.String("purchase_id", record.ID),
				zap.String("course_id", record.CourseID),
			)
			continue
		}
		granted++
	}

	if granted > 0 {
		j.logger.Info("access grants backfilled", zap.Int("count", granted))
	}
	return nil
}
