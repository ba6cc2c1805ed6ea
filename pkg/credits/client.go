// Package credits wraps the main platform's store credit ledger API.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config credit ledger configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GrantRequest credits a user's store account.
type GrantRequest struct {
	UserID         int64   `json:"user_id"`
	Amount         float64 `json:"amount"`
	Reason         string  `json:"reason"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// GrantResponse is the ledger's answer to a grant.
type GrantResponse struct {
	GrantID string  `json:"grant_id"`
	Balance float64 `json:"balance"`
}

// Ledger is the credit surface the award flow depends on.
type Ledger interface {
	GrantCredits(ctx context.Context, req *GrantRequest) (*GrantResponse, error)
}

// Client HTTP credit ledger client.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates the ledger client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GrantCredits credits the user. The idempotency key keeps a retried
// grant from doubling up on the platform side.
func (c *Client) GrantCredits(ctx context.Context, req *GrantRequest) (*GrantResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("credits: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/credits/grant", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("credits: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("credits: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("credits: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("credits: ledger error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("credits: ledger error %d", resp.StatusCode)
	}

	var grantResp GrantResponse
	if err := json.Unmarshal(data, &grantResp); err != nil {
		return nil, fmt.Errorf("credits: decode response: %w", err)
	}
	return &grantResp, nil
}

// MockLedger records grants in memory for tests and local runs.
type MockLedger struct {
	mu     sync.Mutex
	Grants []*GrantRequest

	// FailNext makes the next GrantCredits return an error.
	FailNext bool

	nextID int
}

// NewMockLedger creates the mock.
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// GrantCredits records the grant.
func (m *MockLedger) GrantCredits(ctx context.Context, req *GrantRequest) (*GrantResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		return nil, fmt.Errorf("credits: ledger error 503")
	}

	m.Grants = append(m.Grants, req)
	m.nextID++
	return &GrantResponse{
		GrantID: fmt.Sprintf("grant_mock_%d", m.nextID),
		Balance: req.Amount,
	}, nil
}

// LastGrant returns the most recent recorded grant.
func (m *MockLedger) LastGrant() *GrantRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Grants) == 0 {
		return nil
	}
	return m.Grants[len(m.Grants)-1]
}
