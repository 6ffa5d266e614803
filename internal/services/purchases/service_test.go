package purchases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
	analyticsvc "github.com/avikhrest/coursea/backend/internal/services/analytics"
)

type purchaseStoreStub struct {
	mu      sync.Mutex
	nextID  int
	records map[string]pgrepo.PurchaseRecord

	createFailures   int
	failTransitionTo string
	afterTransition  func(s *purchaseStoreStub, purchaseID string)

	createCalls     int
	transitionCalls int
}

func newPurchaseStoreStub() *purchaseStoreStub {
	return &purchaseStoreStub{
		nextID:  1,
		records: make(map[string]pgrepo.PurchaseRecord),
	}
}

func (s *purchaseStoreStub) CreatePending(_ context.Context, userID, courseID string, amount float64, paymentMethod string) (pgrepo.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	if s.createFailures > 0 {
		s.createFailures--
		return pgrepo.PurchaseRecord{}, fmt.Errorf("insert failed")
	}

	id := fmt.Sprintf("purchase-%d", s.nextID)
	s.nextID++
	now := time.Now().UTC()
	rec := pgrepo.PurchaseRecord{
		ID:            id,
		UserID:        userID,
		CourseID:      courseID,
		Amount:        amount,
		Status:        string(enums.PurchaseStatusPending),
		PaymentMethod: paymentMethod,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[id] = rec
	return rec, nil
}

func (s *purchaseStoreStub) FindForUser(_ context.Context, purchaseID, userID string) (pgrepo.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[purchaseID]
	if !ok || rec.UserID != userID {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *purchaseStoreStub) TransitionStatus(_ context.Context, purchaseID, userID, currentStatus, newStatus string, version int, reason string) (bool, error) {
	s.mu.Lock()
	s.transitionCalls++
	if s.failTransitionTo != "" && s.failTransitionTo == newStatus {
		s.mu.Unlock()
		return false, fmt.Errorf("transition rejected")
	}

	rec, ok := s.records[purchaseID]
	if !ok || rec.UserID != userID {
		s.mu.Unlock()
		return false, nil
	}
	if enums.PurchaseStatus(rec.Status).IsTerminal() {
		s.mu.Unlock()
		return false, nil
	}
	if rec.Status != currentStatus || rec.Version != version {
		s.mu.Unlock()
		return false, nil
	}

	rec.Status = newStatus
	if strings.TrimSpace(reason) != "" {
		r := reason
		rec.StatusReason = &r
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	s.records[purchaseID] = rec
	hook := s.afterTransition
	s.mu.Unlock()

	if hook != nil {
		hook(s, purchaseID)
	}
	return true, nil
}

func (s *purchaseStoreStub) ListForUser(_ context.Context, userID string, _ int) ([]pgrepo.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pgrepo.PurchaseRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *purchaseStoreStub) setStatus(purchaseID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[purchaseID]
	rec.Status = status
	rec.Version++
	s.records[purchaseID] = rec
}

func (s *purchaseStoreStub) record(t *testing.T, purchaseID string) pgrepo.PurchaseRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[purchaseID]
	if !ok {
		t.Fatalf("purchase %s not found in store", purchaseID)
	}
	return rec
}

type executorStub struct {
	outcome PaymentOutcome
	err     error
	calls   int
}

func (e *executorStub) Execute(_ context.Context, _ PaymentRequest) (PaymentOutcome, error) {
	e.calls++
	return e.outcome, e.err
}

type telemetryStub struct {
	mu     sync.Mutex
	events []analyticsvc.BatchEvent
}

func (t *telemetryStub) IngestBatch(_ context.Context, _ string, events []analyticsvc.BatchEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, events...)
	return nil
}

func (t *telemetryStub) stages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, ev := range t.events {
		stage, _ := ev.Props["stage"].(string)
		out = append(out, stage)
	}
	return out
}

func newTestService(store *purchaseStoreStub, executor PaymentExecutor) *Service {
	svc := NewService(Dependencies{Store: store, Executor: executor}, Config{})
	svc.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}
	return svc
}

func validInput() ProcessInput {
	return ProcessInput{
		UserID:        "user-7",
		CourseID:      "go-basics",
		Amount:        49.99,
		PaymentMethod: "card",
	}
}

func TestNewServiceDefaultsZeroConfig(t *testing.T) {
	svc := NewService(Dependencies{Store: newPurchaseStoreStub(), Executor: &executorStub{}}, Config{})

	if svc.cfg.OverallTimeout != defaultOverallTimeout {
		t.Fatalf("overall timeout: got %v want %v", svc.cfg.OverallTimeout, defaultOverallTimeout)
	}
	if svc.cfg.MaxVerifyAttempts != defaultMaxVerifyAttempts {
		t.Fatalf("verify attempts: got %d want %d", svc.cfg.MaxVerifyAttempts, defaultMaxVerifyAttempts)
	}
	if svc.cfg.CreateExtraRetries != defaultCreateExtraRetries {
		t.Fatalf("create extra retries: got %d want %d", svc.cfg.CreateExtraRetries, defaultCreateExtraRetries)
	}
	if svc.cfg.RetryBaseDelay != defaultRetryBaseDelay || svc.cfg.RetryMaxDelay != defaultRetryMaxDelay {
		t.Fatalf("retry delays: got %v/%v", svc.cfg.RetryBaseDelay, svc.cfg.RetryMaxDelay)
	}
}

func TestProcessPurchaseApproved(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: true}}
	svc := newTestService(store, executor)

	result := svc.ProcessPurchase(context.Background(), validInput())

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Status != enums.PurchaseStatusCompleted {
		t.Fatalf("unexpected status: got %q", result.Status)
	}
	if result.PurchaseID == "" {
		t.Fatalf("expected a purchase id")
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusCompleted) {
		t.Fatalf("stored status: got %q want %q", rec.Status, enums.PurchaseStatusCompleted)
	}
	if rec.Version != 2 {
		t.Fatalf("stored version: got %d want 2", rec.Version)
	}
	if executor.calls != 1 {
		t.Fatalf("executor calls: got %d want 1", executor.calls)
	}
}

func TestProcessPurchaseDeclined(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: false, Reason: "Insufficient funds"}}
	svc := newTestService(store, executor)

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Status != enums.PurchaseStatusFailed {
		t.Fatalf("unexpected status: got %q", result.Status)
	}
	if result.Error != "Insufficient funds" {
		t.Fatalf("unexpected error: got %q", result.Error)
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusFailed) {
		t.Fatalf("stored status: got %q want failed", rec.Status)
	}
	if rec.StatusReason == nil || *rec.StatusReason != "Insufficient funds" {
		t.Fatalf("stored reason: got %v", rec.StatusReason)
	}
}

func TestProcessPurchaseDeclinedWithoutReasonGetsDefault(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: false}}
	svc := newTestService(store, executor)

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Error != "Card declined by issuer" {
		t.Fatalf("unexpected error: got %q", result.Error)
	}
}

func TestProcessPurchaseExecutorErrorBecomesNetworkDecline(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{err: fmt.Errorf("connection reset")}
	svc := newTestService(store, executor)

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Error != "Payment network error" {
		t.Fatalf("unexpected error: got %q", result.Error)
	}
	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusFailed) {
		t.Fatalf("stored status: got %q want failed", rec.Status)
	}
}

func TestProcessPurchaseValidation(t *testing.T) {
	store := newPurchaseStoreStub()
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})

	cases := []struct {
		name  string
		input ProcessInput
	}{
		{"missing user", ProcessInput{CourseID: "go-basics", Amount: 10, PaymentMethod: "card"}},
		{"zero amount", ProcessInput{UserID: "u1", CourseID: "go-basics", Amount: 0, PaymentMethod: "card"}},
		{"negative amount", ProcessInput{UserID: "u1", CourseID: "go-basics", Amount: -5, PaymentMethod: "card"}},
		{"bad course id", ProcessInput{UserID: "u1", CourseID: "no spaces!", Amount: 10, PaymentMethod: "card"}},
		{"bad method", ProcessInput{UserID: "u1", CourseID: "go-basics", Amount: 10, PaymentMethod: "cash"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := svc.ProcessPurchase(context.Background(), tc.input)
			if result.Success || result.Error == "" {
				t.Fatalf("expected validation failure, got %+v", result)
			}
			if result.PurchaseID != "" {
				t.Fatalf("no purchase should exist for invalid input")
			}
		})
	}

	if store.createCalls != 0 {
		t.Fatalf("store must not be touched on validation failure, got %d creates", store.createCalls)
	}
}

func TestProcessPurchaseCreateRetriesThenSucceeds(t *testing.T) {
	store := newPurchaseStoreStub()
	store.createFailures = 2
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})

	result := svc.ProcessPurchase(context.Background(), validInput())

	if !result.Success {
		t.Fatalf("expected success after retries, got %+v", result)
	}
	if store.createCalls != 3 {
		t.Fatalf("create calls: got %d want 3", store.createCalls)
	}
}

func TestProcessPurchaseCreateExhausted(t *testing.T) {
	store := newPurchaseStoreStub()
	store.createFailures = 10
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.PurchaseID != "" {
		t.Fatalf("no purchase id should surface when create never succeeded")
	}
	if !strings.Contains(result.Error, "create purchase record") {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if store.createCalls != 3 {
		t.Fatalf("create calls: got %d want 3", store.createCalls)
	}
}

func TestProcessPurchaseSettledElsewhereShortCircuits(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: true}}
	svc := newTestService(store, executor)

	// Another writer settles the row into refunded between create and the
	// first transition attempt.
	var race sync.Once
	svc.store = storeWithPreTransition{stub: store, hook: func(purchaseID string) {
		race.Do(func() {
			store.setStatus(purchaseID, string(enums.PurchaseStatusRefunded))
		})
	}}

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Status != enums.PurchaseStatusRefunded {
		t.Fatalf("unexpected status: got %q want refunded", result.Status)
	}
	if !strings.Contains(result.Error, "settled") {
		t.Fatalf("unexpected error: %q", result.Error)
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusRefunded) {
		t.Fatalf("terminal row must not be overwritten: got %q", rec.Status)
	}
}

func TestProcessPurchaseTransitionRetriesStalePreconditions(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: true}}
	svc := newTestService(store, executor)

	// A concurrent writer touches the row before the first two transition
	// attempts, so their preconditions are stale. The third attempt runs
	// against a fresh re-read and must land without surfacing an error.
	touches := 0
	svc.store = storeWithPreTransition{stub: store, hook: func(purchaseID string) {
		touches++
		if touches <= 2 {
			store.setStatus(purchaseID, string(enums.PurchaseStatusPending))
		}
	}}

	result := svc.ProcessPurchase(context.Background(), validInput())

	if !result.Success {
		t.Fatalf("expected success after stale retries, got %+v", result)
	}
	if result.Error != "" {
		t.Fatalf("no error should surface, got %q", result.Error)
	}
	if store.transitionCalls != 3 {
		t.Fatalf("transition calls: got %d want 3", store.transitionCalls)
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusCompleted) {
		t.Fatalf("stored status: got %q want completed", rec.Status)
	}
	if rec.Version != 4 {
		t.Fatalf("stored version: got %d want 4", rec.Version)
	}
}

func TestProcessPurchaseTransitionFailureForcesFailed(t *testing.T) {
	store := newPurchaseStoreStub()
	store.failTransitionTo = string(enums.PurchaseStatusCompleted)
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.PurchaseID == "" {
		t.Fatalf("expected a purchase id")
	}

	// The safety net must not leave the row pending.
	rec := store.record(t, result.PurchaseID)
	if rec.Status == string(enums.PurchaseStatusPending) {
		t.Fatalf("purchase left dangling in pending")
	}
	if rec.Status != string(enums.PurchaseStatusFailed) {
		t.Fatalf("stored status: got %q want failed", rec.Status)
	}
}

func TestProcessPurchaseVerifyTerminalMismatch(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: true}}
	svc := newTestService(store, executor)

	// The row flips to refunded right after the transition lands, so every
	// verification read observes a conflicting terminal status.
	store.afterTransition = func(s *purchaseStoreStub, purchaseID string) {
		s.setStatus(purchaseID, string(enums.PurchaseStatusRefunded))
	}

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Status != enums.PurchaseStatusRefunded {
		t.Fatalf("unexpected status: got %q want refunded", result.Status)
	}
	if !strings.Contains(result.Error, "instead of") {
		t.Fatalf("unexpected error: %q", result.Error)
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusRefunded) {
		t.Fatalf("terminal row must not be overwritten: got %q", rec.Status)
	}
}

func TestProcessPurchaseVerifyExhaustionForcesFailed(t *testing.T) {
	store := newPurchaseStoreStub()
	executor := &executorStub{outcome: PaymentOutcome{Authorized: true}}
	svc := newTestService(store, executor)

	// The transition to completed is acknowledged but never persisted, so
	// every verification read keeps observing pending. After the attempts
	// run out the row must be forced to failed, not left dangling.
	svc.store = lostWriteStore{stub: store, dropTo: string(enums.PurchaseStatusCompleted)}
	svc.verifier = NewVerifier(svc.store, svc.cfg.VerifyAttemptTimeout)

	result := svc.ProcessPurchase(context.Background(), validInput())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "could not verify") {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if strings.Contains(result.Error, "instead of") {
		t.Fatalf("exhaustion must not read as a mismatch: %q", result.Error)
	}
	if result.Status != enums.PurchaseStatusFailed {
		t.Fatalf("unexpected status: got %q want failed", result.Status)
	}
	if forced, _ := result.Details["forced_failed"].(bool); !forced {
		t.Fatalf("expected forced_failed detail, got %+v", result.Details)
	}

	rec := store.record(t, result.PurchaseID)
	if rec.Status != string(enums.PurchaseStatusFailed) {
		t.Fatalf("stored status: got %q want failed", rec.Status)
	}
}

func TestProcessPurchaseDeadlineDuringCreate(t *testing.T) {
	store := newPurchaseStoreStub()
	store.createFailures = 10
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})
	svc.sleep = contextSleep

	result := svc.ProcessPurchase(context.Background(), ProcessInput{
		UserID:        "user-7",
		CourseID:      "go-basics",
		Amount:        49.99,
		PaymentMethod: "card",
		Timeout:       time.Millisecond,
	})

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.PurchaseID != "" {
		t.Fatalf("no purchase id should surface, got %q", result.PurchaseID)
	}
	if !strings.Contains(result.Error, "canceled") {
		t.Fatalf("unexpected error: %q", result.Error)
	}
}

func TestProcessPurchaseEmitsStageTelemetry(t *testing.T) {
	store := newPurchaseStoreStub()
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})
	telemetry := &telemetryStub{}
	svc.AttachTelemetry(telemetry)

	result := svc.ProcessPurchase(context.Background(), validInput())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	stages := telemetry.stages()
	want := map[string]bool{"create": false, "payment": false, "transition": false, "verify": false}
	for _, stage := range stages {
		if _, ok := want[stage]; ok {
			want[stage] = true
		}
	}
	for stage, seen := range want {
		if !seen {
			t.Fatalf("stage %q was never emitted, got %v", stage, stages)
		}
	}
}

func TestGetForUserScopedToOwner(t *testing.T) {
	store := newPurchaseStoreStub()
	svc := newTestService(store, &executorStub{outcome: PaymentOutcome{Authorized: true}})

	result := svc.ProcessPurchase(context.Background(), validInput())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if _, err := svc.GetForUser(context.Background(), result.PurchaseID, "someone-else"); err == nil {
		t.Fatalf("expected not found for foreign user")
	}

	purchase, err := svc.GetForUser(context.Background(), result.PurchaseID, "user-7")
	if err != nil {
		t.Fatalf("get for owner: %v", err)
	}
	if purchase.Status != enums.PurchaseStatusCompleted {
		t.Fatalf("unexpected status: got %q", purchase.Status)
	}
}

// storeWithPreTransition wraps the stub to run a hook before each
// status transition, simulating a concurrent writer.
type storeWithPreTransition struct {
	stub *purchaseStoreStub
	hook func(purchaseID string)
}

func (s storeWithPreTransition) CreatePending(ctx context.Context, userID, courseID string, amount float64, paymentMethod string) (pgrepo.PurchaseRecord, error) {
	return s.stub.CreatePending(ctx, userID, courseID, amount, paymentMethod)
}

func (s storeWithPreTransition) FindForUser(ctx context.Context, purchaseID, userID string) (pgrepo.PurchaseRecord, error) {
	return s.stub.FindForUser(ctx, purchaseID, userID)
}

func (s storeWithPreTransition) TransitionStatus(ctx context.Context, purchaseID, userID, currentStatus, newStatus string, version int, reason string) (bool, error) {
	if s.hook != nil {
		s.hook(purchaseID)
	}
	return s.stub.TransitionStatus(ctx, purchaseID, userID, currentStatus, newStatus, version, reason)
}

func (s storeWithPreTransition) ListForUser(ctx context.Context, userID string, limit int) ([]pgrepo.PurchaseRecord, error) {
	return s.stub.ListForUser(ctx, userID, limit)
}

// lostWriteStore acknowledges a transition into dropTo without persisting
// it, so later reads keep observing the old status.
type lostWriteStore struct {
	stub   *purchaseStoreStub
	dropTo string
}

func (s lostWriteStore) CreatePending(ctx context.Context, userID, courseID string, amount float64, paymentMethod string) (pgrepo.PurchaseRecord, error) {
	return s.stub.CreatePending(ctx, userID, courseID, amount, paymentMethod)
}

func (s lostWriteStore) FindForUser(ctx context.Context, purchaseID, userID string) (pgrepo.PurchaseRecord, error) {
	return s.stub.FindForUser(ctx, purchaseID, userID)
}

func (s lostWriteStore) TransitionStatus(ctx context.Context, purchaseID, userID, currentStatus, newStatus string, version int, reason string) (bool, error) {
	if newStatus == s.dropTo {
		return true, nil
	}
	return s.stub.TransitionStatus(ctx, purchaseID, userID, currentStatus, newStatus, version, reason)
}

func (s lostWriteStore) ListForUser(ctx context.Context, userID string, limit int) ([]pgrepo.PurchaseRecord, error) {
	return s.stub.ListForUser(ctx, userID, limit)
}
