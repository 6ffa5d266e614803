package httpclient

import (
	"net/http"
	"time"
)

// defaultTimeout keeps a misconfigured client well inside the purchase
// orchestrator's overall deadline.
const defaultTimeout = 10 * time.Second

func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
