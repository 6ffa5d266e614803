package purchases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/avikhrest/coursea/backend/internal/domain/enums"
)

type PaymentRequest struct {
	PurchaseID string
	UserID     string
	CourseID   string
	Amount     float64
	Method     enums.PaymentMethod
}

type PaymentOutcome struct {
	Authorized bool
	Reason     string
}

// PaymentExecutor charges the customer. The orchestrator only needs the
// pass/fail + reason contract, so a real gateway can be substituted
// without touching the state machine.
type PaymentExecutor interface {
	Execute(ctx context.Context, req PaymentRequest) (PaymentOutcome, error)
}

// declineReasons is the fixed vocabulary surfaced in status_reason when a
// charge does not go through.
var declineReasons = []string{
	"Insufficient funds",
	"Card declined by issuer",
	"Expired card",
	"Invalid card number",
	"Security code check failed",
	"Purchase limit exceeded",
	"Suspected fraud",
	"Payment network error",
}

// SimulatedExecutor approves a configurable share of charges and declines
// the rest with a random reason from the fixed vocabulary. It stands in
// for the gateway in dev and test environments.
type SimulatedExecutor struct {
	successRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedExecutor(successRate float64, seed int64) *SimulatedExecutor {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}

	return &SimulatedExecutor{
		successRate: successRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (e *SimulatedExecutor) Execute(ctx context.Context, req PaymentRequest) (PaymentOutcome, error) {
	if err := ctx.Err(); err != nil {
		return PaymentOutcome{}, err
	}
	if req.Amount <= 0 {
		return PaymentOutcome{}, fmt.Errorf("invalid charge amount")
	}

	e.mu.Lock()
	roll := e.rng.Float64()
	reason := declineReasons[e.rng.Intn(len(declineReasons))]
	e.mu.Unlock()

	if roll < e.successRate {
		return PaymentOutcome{Authorized: true}, nil
	}
	return PaymentOutcome{Authorized: false, Reason: reason}, nil
}

// GatewayExecutor posts the charge to an external payment gateway over
// HTTP. The response body mirrors PaymentOutcome.
type GatewayExecutor struct {
	baseURL string
	client  *http.Client
}

func NewGatewayExecutor(baseURL string, client *http.Client) *GatewayExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &GatewayExecutor{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

func (e *GatewayExecutor) Execute(ctx context.Context, req PaymentRequest) (PaymentOutcome, error) {
	if e.baseURL == "" {
		return PaymentOutcome{}, fmt.Errorf("gateway base url is empty")
	}

	body, err := json.Marshal(map[string]any{
		"purchase_id": req.PurchaseID,
		"user_id":     req.UserID,
		"course_id":   req.CourseID,
		"amount":      req.Amount,
		"method":      string(req.Method),
	})
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("post charge: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return PaymentOutcome{}, fmt.Errorf("gateway responded with status %d", resp.StatusCode)
	}

	var decoded struct {
		Authorized bool   `json:"authorized"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PaymentOutcome{}, fmt.Errorf("decode charge response: %w", err)
	}

	return PaymentOutcome{Authorized: decoded.Authorized, Reason: decoded.Reason}, nil
}
