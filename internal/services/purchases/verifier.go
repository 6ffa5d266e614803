package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
)

type VerifierStore interface {
	FindForUser(ctx context.Context, purchaseID, userID string) (pgrepo.PurchaseRecord, error)
}

type VerifyOutcome struct {
	Confirmed bool
	// TerminalMismatch is set when the row has settled into a terminal
	// status other than the expected one. The caller must stop polling:
	// the record will never converge and retrying would mask a real
	// failure as a timeout.
	TerminalMismatch bool
	Observed         enums.PurchaseStatus
}

// Verifier re-reads a purchase row until it reflects an expected status.
type Verifier struct {
	store          VerifierStore
	attemptTimeout time.Duration
}

func NewVerifier(store VerifierStore, attemptTimeout time.Duration) *Verifier {
	if attemptTimeout <= 0 {
		attemptTimeout = 5 * time.Second
	}
	return &Verifier{
		store:          store,
		attemptTimeout: attemptTimeout,
	}
}

// Check performs a single verification attempt.
//
// Not-found and still-pending rows mean "not yet verified", not an error.
// An attempt that overruns its own time box counts as a failed attempt;
// only cancellation of the parent context is fatal.
func (v *Verifier) Check(ctx context.Context, purchaseID, userID string, expected enums.PurchaseStatus) (VerifyOutcome, error) {
	if v.store == nil {
		return VerifyOutcome{}, errors.New("verifier store is nil")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, v.attemptTimeout)
	defer cancel()

	record, err := v.store.FindForUser(attemptCtx, purchaseID, userID)
	if err != nil {
		switch {
		case errors.Is(err, pgrepo.ErrPurchaseNotFound):
			return VerifyOutcome{}, nil
		case ctx.Err() != nil:
			return VerifyOutcome{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// the per-attempt box expired, the overall deadline did not
			return VerifyOutcome{}, nil
		default:
			return VerifyOutcome{}, err
		}
	}

	observed := enums.PurchaseStatus(record.Status)
	switch {
	case observed == expected:
		return VerifyOutcome{Confirmed: true, Observed: observed}, nil
	case observed == enums.PurchaseStatusPending:
		return VerifyOutcome{Observed: observed}, nil
	default:
		return VerifyOutcome{TerminalMismatch: true, Observed: observed}, nil
	}
}
