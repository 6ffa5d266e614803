package purchases

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
	"github.com/avikhrest/coursea/backend/internal/domain/model"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
	analyticsvc "github.com/avikhrest/coursea/backend/internal/services/analytics"
)

const (
	defaultOverallTimeout       = 15 * time.Second
	defaultMaxVerifyAttempts    = 3
	defaultVerifyAttemptTimeout = 5 * time.Second
	defaultVerifyBaseDelay      = time.Second
	defaultVerifyMaxDelay       = 3 * time.Second
	defaultCreateExtraRetries   = 2
	defaultRetryBaseDelay       = 200 * time.Millisecond
	defaultRetryMaxDelay        = 2 * time.Second

	transitionAttempts = 3
	cleanupGracePeriod = 3 * time.Second
)

var (
	ErrValidation = errors.New("validation error")

	courseIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,63}$`)
)

type PurchaseStore interface {
	CreatePending(ctx context.Context, userID, courseID string, amount float64, paymentMethod string) (pgrepo.PurchaseRecord, error)
	FindForUser(ctx context.Context, purchaseID, userID string) (pgrepo.PurchaseRecord, error)
	TransitionStatus(ctx context.Context, purchaseID, userID, currentStatus, newStatus string, version int, reason string) (bool, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]pgrepo.PurchaseRecord, error)
}

type TelemetryService interface {
	IngestBatch(ctx context.Context, userID string, events []analyticsvc.BatchEvent) error
}

type Config struct {
	OverallTimeout       time.Duration
	MaxVerifyAttempts    int
	VerifyAttemptTimeout time.Duration
	VerifyBaseDelay      time.Duration
	VerifyMaxDelay       time.Duration
	CreateExtraRetries   int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
}

type Dependencies struct {
	Store    PurchaseStore
	Executor PaymentExecutor
}

// Service drives a purchase through its lifecycle: create pending, charge,
// transition to a terminal status with compare-and-swap preconditions, and
// verify convergence. It holds no cross-purchase state; all mutual
// exclusion is delegated to the store's atomic transition procedure.
type Service struct {
	store     PurchaseStore
	executor  PaymentExecutor
	verifier  *Verifier
	telemetry TelemetryService
	cfg       Config
	now       func() time.Time
	sleep     sleepFunc
}

type ProcessInput struct {
	UserID        string
	CourseID      string
	Amount        float64
	PaymentMethod string

	// Optional per-call overrides.
	Timeout    time.Duration
	MaxRetries int
}

// Result is the entire outcome contract: ProcessPurchase never returns a
// Go error, so callers need no unwrapping to use it correctly.
type Result struct {
	Success    bool
	PurchaseID string
	Status     enums.PurchaseStatus
	Error      string
	Details    map[string]any
}

// settledElsewhereError reports that the row reached a terminal status
// other than the one this invocation was driving it to.
type settledElsewhereError struct {
	observed enums.PurchaseStatus
}

func (e *settledElsewhereError) Error() string {
	return fmt.Sprintf("purchase already settled into status %q", e.observed)
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = defaultOverallTimeout
	}
	if cfg.MaxVerifyAttempts <= 0 {
		cfg.MaxVerifyAttempts = defaultMaxVerifyAttempts
	}
	if cfg.VerifyAttemptTimeout <= 0 {
		cfg.VerifyAttemptTimeout = defaultVerifyAttemptTimeout
	}
	if cfg.VerifyBaseDelay <= 0 {
		cfg.VerifyBaseDelay = defaultVerifyBaseDelay
	}
	if cfg.VerifyMaxDelay <= 0 {
		cfg.VerifyMaxDelay = defaultVerifyMaxDelay
	}
	if cfg.CreateExtraRetries <= 0 {
		cfg.CreateExtraRetries = defaultCreateExtraRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}

	return &Service{
		store:    deps.Store,
		executor: deps.Executor,
		verifier: NewVerifier(deps.Store, cfg.VerifyAttemptTimeout),
		cfg:      cfg,
		now:      time.Now,
		sleep:    contextSleep,
	}
}

func (s *Service) AttachTelemetry(telemetry TelemetryService) {
	s.telemetry = telemetry
}

// ProcessPurchase runs the whole purchase state machine for one fresh
// purchase. Re-invoking after a failure is safe: every call starts a new
// purchase id, and a finished row is terminal forever.
func (s *Service) ProcessPurchase(ctx context.Context, in ProcessInput) Result {
	if s.store == nil || s.executor == nil {
		return Result{Error: "purchase service is not configured"}
	}

	method, courseID, err := s.validateInput(in)
	if err != nil {
		return Result{Error: err.Error()}
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = s.cfg.OverallTimeout
	}
	maxVerify := in.MaxRetries
	if maxVerify <= 0 {
		maxVerify = s.cfg.MaxVerifyAttempts
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	userID := strings.TrimSpace(in.UserID)
	record, err := withRetry(opCtx, s.sleep, s.retryPolicy(), "create purchase record", func(c context.Context) (pgrepo.PurchaseRecord, error) {
		return s.store.CreatePending(c, userID, courseID, in.Amount, string(method))
	})
	if err != nil {
		// no purchase id exists yet, nothing to clean up
		s.emitStage(ctx, userID, "", "create", 0, "error")
		return Result{Error: err.Error()}
	}
	s.emitStage(opCtx, userID, record.ID, "create", 1, "ok")

	// From here on the row must never be left dangling in pending,
	// whatever path this invocation exits through.
	rowSettled := false
	defer func() {
		if !rowSettled {
			s.forceFail(ctx, record, "purchase aborted before settlement")
		}
	}()

	outcome := s.charge(opCtx, record, method)
	target := enums.PurchaseStatusCompleted
	reason := ""
	if !outcome.Authorized {
		target = enums.PurchaseStatusFailed
		reason = outcome.Reason
	}
	s.emitStage(opCtx, userID, record.ID, "payment", 1, string(target))

	if err := s.transition(opCtx, &record, target, reason); err != nil {
		var settled *settledElsewhereError
		if errors.As(err, &settled) {
			rowSettled = true
			return Result{
				PurchaseID: record.ID,
				Status:     settled.observed,
				Error:      err.Error(),
				Details:    map[string]any{"expected_status": string(target)},
			}
		}
		return Result{
			PurchaseID: record.ID,
			Error:      err.Error(),
			Details:    map[string]any{"attempted_status": string(target), "attempts": transitionAttempts},
		}
	}

	verify := s.verifyLoop(opCtx, record, target, maxVerify)
	switch {
	case verify.Confirmed:
		rowSettled = true
		result := Result{
			Success:    true,
			PurchaseID: record.ID,
			Status:     target,
		}
		if reason != "" {
			result.Success = false
			result.Error = reason
			result.Details = map[string]any{"status_reason": reason}
		}
		return result
	case verify.TerminalMismatch:
		rowSettled = true
		return Result{
			PurchaseID: record.ID,
			Status:     verify.Observed,
			Error:      fmt.Sprintf("purchase settled into status %q instead of %q", verify.Observed, target),
			Details:    map[string]any{"expected_status": string(target)},
		}
	default:
		forced := s.forceFail(ctx, record, "verification could not be confirmed")
		rowSettled = true
		result := Result{
			PurchaseID: record.ID,
			Error:      fmt.Sprintf("could not verify status %q after %d attempts; purchase was marked failed", target, maxVerify),
			Details:    map[string]any{"attempts": maxVerify, "forced_failed": forced},
		}
		if forced {
			result.Status = enums.PurchaseStatusFailed
		}
		return result
	}
}

// GetForUser is a display read: an eventually-consistent snapshot, never
// authoritative for state-machine decisions.
func (s *Service) GetForUser(ctx context.Context, purchaseID, userID string) (model.Purchase, error) {
	if s.store == nil {
		return model.Purchase{}, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(purchaseID) == "" || strings.TrimSpace(userID) == "" {
		return model.Purchase{}, ErrValidation
	}

	record, err := s.store.FindForUser(ctx, purchaseID, userID)
	if err != nil {
		return model.Purchase{}, err
	}
	return toPurchaseModel(record), nil
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]model.Purchase, error) {
	if s.store == nil {
		return nil, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrValidation
	}

	records, err := s.store.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	purchases := make([]model.Purchase, 0, len(records))
	for _, record := range records {
		purchases = append(purchases, toPurchaseModel(record))
	}
	return purchases, nil
}

func (s *Service) validateInput(in ProcessInput) (enums.PaymentMethod, string, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !(in.Amount > 0) || math.IsInf(in.Amount, 0) {
		return "", "", fmt.Errorf("%w: amount must be a positive finite number", ErrValidation)
	}
	courseID := strings.ToLower(strings.TrimSpace(in.CourseID))
	if !courseIDPattern.MatchString(courseID) {
		return "", "", fmt.Errorf("%w: %q is not a valid course identifier", ErrValidation, in.CourseID)
	}
	method := enums.PaymentMethod(strings.ToLower(strings.TrimSpace(in.PaymentMethod)))
	if !method.IsValid() {
		return "", "", fmt.Errorf("%w: unsupported payment method %q", ErrValidation, in.PaymentMethod)
	}
	return method, courseID, nil
}

// charge runs the pluggable payment step. Its outcome feeds the state
// transition; the step itself is never retried. An executor error is
// reported as a declined charge, not as an orchestration failure.
func (s *Service) charge(ctx context.Context, record pgrepo.PurchaseRecord, method enums.PaymentMethod) PaymentOutcome {
	outcome, err := s.executor.Execute(ctx, PaymentRequest{
		PurchaseID: record.ID,
		UserID:     record.UserID,
		CourseID:   record.CourseID,
		Amount:     record.Amount,
		Method:     method,
	})
	if err != nil {
		return PaymentOutcome{Authorized: false, Reason: "Payment network error"}
	}
	if !outcome.Authorized && strings.TrimSpace(outcome.Reason) == "" {
		outcome.Reason = "Card declined by issuer"
	}
	return outcome
}

// transition drives the compare-and-swap status update. Preconditions are
// re-read before every retry; stale ones are never resubmitted.
func (s *Service) transition(ctx context.Context, record *pgrepo.PurchaseRecord, target enums.PurchaseStatus, reason string) error {
	var lastErr error

	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		if attempt > 1 {
			fresh, err := s.store.FindForUser(ctx, record.ID, record.UserID)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					break
				}
				continue
			}
			current := enums.PurchaseStatus(fresh.Status)
			if current.IsTerminal() {
				if current == target {
					*record = fresh
					return nil
				}
				return &settledElsewhereError{observed: current}
			}
			*record = fresh
		}

		applied, err := s.store.TransitionStatus(ctx, record.ID, record.UserID, record.Status, string(target), record.Version, reason)
		s.emitStage(ctx, record.UserID, record.ID, "transition", attempt, transitionOutcome(applied, err))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if applied {
			record.Status = string(target)
			record.Version++
			return nil
		}
		// CAS mismatch is control flow: re-read and retry
		lastErr = fmt.Errorf("preconditions did not match the stored row")
	}

	return fmt.Errorf("transition purchase %s to %q failed after %d attempts: %w", record.ID, target, transitionAttempts, lastErr)
}

func (s *Service) verifyLoop(ctx context.Context, record pgrepo.PurchaseRecord, expected enums.PurchaseStatus, attempts int) VerifyOutcome {
	policy := backoffPolicy{
		baseDelay: s.cfg.VerifyBaseDelay,
		maxDelay:  s.cfg.VerifyMaxDelay,
	}

	var last VerifyOutcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, policy.delay(attempt-2)); err != nil {
				return last
			}
		}

		outcome, err := s.verifier.Check(ctx, record.ID, record.UserID, expected)
		s.emitStage(ctx, record.UserID, record.ID, "verify", attempt, verifyOutcomeLabel(outcome, err))
		if err != nil {
			if ctx.Err() != nil {
				return last
			}
			continue
		}
		if outcome.Confirmed || outcome.TerminalMismatch {
			return outcome
		}
		last = outcome
	}

	return last
}

// forceFail is the best-effort cleanup path. It runs on a detached
// context so a fired deadline cannot leave the row dangling in pending,
// and it never overwrites a row that already settled.
func (s *Service) forceFail(ctx context.Context, record pgrepo.PurchaseRecord, reason string) bool {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupGracePeriod)
	defer cancel()

	for attempt := 1; attempt <= 2; attempt++ {
		fresh, err := s.store.FindForUser(cleanupCtx, record.ID, record.UserID)
		if err != nil {
			return false
		}
		current := enums.PurchaseStatus(fresh.Status)
		if current.IsTerminal() {
			return current == enums.PurchaseStatusFailed
		}

		applied, err := s.store.TransitionStatus(cleanupCtx, fresh.ID, fresh.UserID, fresh.Status, string(enums.PurchaseStatusFailed), fresh.Version, reason)
		if err != nil {
			return false
		}
		if applied {
			s.emitStage(cleanupCtx, record.UserID, record.ID, "force_fail", attempt, "ok")
			return true
		}
	}

	return false
}

func (s *Service) retryPolicy() backoffPolicy {
	return backoffPolicy{
		extraAttempts: s.cfg.CreateExtraRetries,
		baseDelay:     s.cfg.RetryBaseDelay,
		maxDelay:      s.cfg.RetryMaxDelay,
	}
}

func (s *Service) emitStage(ctx context.Context, userID, purchaseID, stage string, attempt int, outcome string) {
	if s.telemetry == nil {
		return
	}

	_ = s.telemetry.IngestBatch(ctx, userID, []analyticsvc.BatchEvent{
		{
			Name: "purchase_stage",
			TS:   s.now().UTC().UnixMilli(),
			Props: map[string]any{
				"purchase_id": purchaseID,
				"stage":       stage,
				"attempt":     attempt,
				"outcome":     outcome,
			},
		},
	})
}

func transitionOutcome(applied bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case applied:
		return "ok"
	default:
		return "cas_mismatch"
	}
}

func verifyOutcomeLabel(outcome VerifyOutcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case outcome.Confirmed:
		return "confirmed"
	case outcome.TerminalMismatch:
		return "terminal_mismatch"
	default:
		return "unverified"
	}
}

func toPurchaseModel(record pgrepo.PurchaseRecord) model.Purchase {
	return model.Purchase{
		ID:            record.ID,
		UserID:        record.UserID,
		CourseID:      record.CourseID,
		Amount:        record.Amount,
		Status:        enums.PurchaseStatus(record.Status),
		StatusReason:  record.StatusReason,
		PaymentMethod: enums.PaymentMethod(record.PaymentMethod),
		Version:       record.Version,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}
