// Package notify sends transactional email through Brevo.
package notify

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

// Config notifier configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	SenderName string
	SenderMail string
	Timeout    time.Duration
}

// Template ids for affiliate lifecycle mail.
const (
	TemplateApplicationApproved = "affiliate_approved"
	TemplateApplicationRejected = "affiliate_rejected"
	TemplateCommissionEarned    = "commission_earned"
	TemplatePayoutCompleted     = "payout_completed"
	TemplatePayoutFailed        = "payout_failed"
	TemplateCreditsAwarded      = "credits_awarded"
)

// Message one outgoing notification.
type Message struct {
	To       string
	Name     string
	Template string
	Params   map[string]interface{}
}

// Notifier is the mail surface the services depend on. Sends are best
// effort: callers log failures and move on.
type Notifier interface {
	Send(ctx context.Context, msg *Message) error
}

// BrevoNotifier sends through the Brevo transactional API.
type BrevoNotifier struct {
	config     *Config
	httpClient *http.Client
	templates  map[string]int64
}

// NewBrevoNotifier creates the notifier.
func NewBrevoNotifier(config *Config) *BrevoNotifier {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.brevo.com"
	}
	config.BaseURL = baseURL
	return &BrevoNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		templates: make(map[string]int64),
	}
}

// SetTemplates maps template names to Brevo template ids.
func (n *BrevoNotifier) SetTemplates(templates map[string]int64) {
	for k, v := range templates {
		n.templates[k] = v
	}
}

type brevoPayload struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To []struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	} `json:"to"`
	TemplateID int64                  `json:"templateId"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// Send delivers one message.
func (n *BrevoNotifier) Send(ctx context.Context, msg *Message) error {
	templateID, ok := n.templates[msg.Template]
	if !ok {
		return fmt.Errorf("notify: template %q not configured", msg.Template)
	}

	var payload brevoPayload
	payload.Sender.Name = n.config.SenderName
	payload.Sender.Email = n.config.SenderMail
	payload.To = append(payload.To, struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}{Email: msg.To, Name: msg.Name})
	payload.TemplateID = templateID
	payload.Params = msg.Params

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.BaseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", n.config.APIKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: brevo error %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// MockNotifier records messages in memory for tests and local runs.
type MockNotifier struct {
	mu       sync.Mutex
	Messages []*Message
}

// NewMockNotifier creates the mock.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Send records the message.
func (m *MockNotifier) Send(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

// LastMessage returns the most recent recorded message.
func (m *MockNotifier) LastMessage() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return nil
	}
	return m.Messages[len(m.Messages)-1]
}

// Clear drops the recorded messages.
func (m *MockNotifier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
