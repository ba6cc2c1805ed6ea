// Package paygate wraps the payment gateway's transfer API.
package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Config payment gateway configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ErrTimeout is returned when the gateway does not answer within the
// configured deadline. Callers must treat it as a failed transfer,
// never as in-flight.
var ErrTimeout = errors.New("paygate: request timed out")

// ErrTransferNotFound is returned by GetTransfer when the gateway has
// no transfer under the given idempotency key. The recovery sweep
// reads it as "the transfer never landed".
var ErrTransferNotFound = errors.New("paygate: transfer not found")

var errNotFound = errors.New("paygate: not found")

// TransferRequest asks the gateway to move money to an account.
type TransferRequest struct {
	AccountID      string  `json:"account_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Reference      string  `json:"reference"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// TransferResponse is the gateway's answer to a transfer.
type TransferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	FailureMsg string `json:"failure_msg,omitempty"`
}

// Transfer statuses reported by the gateway.
const (
	TransferStatusSucceeded = "succeeded"
	TransferStatusFailed    = "failed"
)

// Account is a payout destination registered with the gateway.
type Account struct {
	AccountID          string `json:"account_id"`
	OnboardingComplete bool   `json:"onboarding_complete"`
	PayoutsEnabled     bool   `json:"payouts_enabled"`
	Country            string `json:"country"`
}

// CreateAccountRequest registers a connected account for an affiliate.
type CreateAccountRequest struct {
	Email       string `json:"email"`
	Country     string `json:"country,omitempty"`
	ExternalRef string `json:"external_ref"`
}

// OnboardingLinkRequest asks for a hosted onboarding session.
type OnboardingLinkRequest struct {
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

// OnboardingLink is a single-use hosted onboarding URL.
type OnboardingLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// Gateway is the connected-account surface the affiliate and payout
// flows depend on.
type Gateway interface {
	CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error)
	GetOnboardingLink(ctx context.Context, accountID string, req *OnboardingLinkRequest) (*OnboardingLink, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error)
	GetTransfer(ctx context.Context, idempotencyKey string) (*TransferResponse, error)
}

// Client HTTP gateway client.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates the gateway client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateTransfer sends money to the account. The idempotency key makes
// a retried call safe on the gateway side.
func (c *Client) CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.post(ctx, "/v1/transfers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransfer looks up a transfer by the idempotency key it was
// created under. A 404 maps to ErrTransferNotFound.
func (c *Client) GetTransfer(ctx context.Context, idempotencyKey string) (*TransferResponse, error) {
	var resp TransferResponse
	err := c.get(ctx, "/v1/transfers/lookup?idempotency_key="+url.QueryEscape(idempotencyKey), &resp)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &resp, nil
}

// CreateAccount registers a connected account.
func (c *Client) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	var account Account
	if err := c.post(ctx, "/v1/accounts", req, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOnboardingLink requests a hosted onboarding session for the
// account.
func (c *Client) GetOnboardingLink(ctx context.Context, accountID string, req *OnboardingLinkRequest) (*OnboardingLink, error) {
	var link OnboardingLink
	if err := c.post(ctx, "/v1/accounts/"+accountID+"/onboarding_link", req, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// GetAccount looks up a payout account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	if err := c.get(ctx, "/v1/accounts/"+accountID, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("paygate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paygate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("paygate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("paygate: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("paygate: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("paygate: gateway error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("paygate: gateway error %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("paygate: decode response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// MockGateway records accounts and transfers in memory for tests and
// local runs.
type MockGateway struct {
	mu        sync.Mutex
	Transfers []*TransferRequest
	// Results holds completed transfers keyed by idempotency key, the
	// way the gateway's lookup endpoint serves them.
	Results  map[string]*TransferResponse
	Accounts map[string]*Account

	// FailNext makes the next CreateTransfer report a failed status.
	FailNext bool
	// TimeoutNext makes the next CreateTransfer return ErrTimeout.
	TimeoutNext bool
	// LookupErrNext makes the next GetTransfer fail with ErrTimeout.
	LookupErrNext bool

	nextID int
}

// NewMockGateway creates the mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Results:  make(map[string]*TransferResponse),
		Accounts: make(map[string]*Account),
	}
}

// CreateAccount registers a mock connected account. Fresh accounts
// start with payouts disabled, like a real account before onboarding.
func (m *MockGateway) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	account := &Account{
		AccountID: fmt.Sprintf("acct_mock_%d", m.nextID),
		Country:   req.Country,
	}
	m.Accounts[account.AccountID] = account
	return account, nil
}

// GetOnboardingLink returns a deterministic mock URL.
func (m *MockGateway) GetOnboardingLink(ctx context.Context, accountID string, req *OnboardingLinkRequest) (*OnboardingLink, error) {
	return &OnboardingLink{
		URL:       "https://onboard.paygate.test/" + accountID,
		ExpiresAt: time.Now().Add(15 * time.Minute).Unix(),
	}, nil
}

// CreateTransfer records the transfer and its result.
func (m *MockGateway) CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TimeoutNext {
		m.TimeoutNext = false
		return nil, ErrTimeout
	}

	if resp, ok := m.Results[req.IdempotencyKey]; ok {
		return resp, nil
	}

	m.Transfers = append(m.Transfers, req)
	m.nextID++

	resp := &TransferResponse{
		TransferID: fmt.Sprintf("tr_mock_%d", m.nextID),
		Status:     TransferStatusSucceeded,
	}
	if m.FailNext {
		m.FailNext = false
		resp.Status = TransferStatusFailed
		resp.FailureMsg = "insufficient platform balance"
	}
	m.Results[req.IdempotencyKey] = resp
	return resp, nil
}

// GetTransfer looks up a recorded transfer by idempotency key.
func (m *MockGateway) GetTransfer(ctx context.Context, idempotencyKey string) (*TransferResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErrNext {
		m.LookupErrNext = false
		return nil, ErrTimeout
	}
	if resp, ok := m.Results[idempotencyKey]; ok {
		return resp, nil
	}
	return nil, ErrTransferNotFound
}

// GetAccount returns a registered account or a payouts-enabled stub.
func (m *MockGateway) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.Accounts[accountID]; ok {
		return account, nil
	}
	return &Account{AccountID: accountID, OnboardingComplete: true, PayoutsEnabled: true}, nil
}

// LastTransfer returns the most recent recorded transfer.
func (m *MockGateway) LastTransfer() *TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Transfers) == 0 {
		return nil
	}
	return m.Transfers[len(m.Transfers)-1]
}
