package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GrantCredits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/credits/grant", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req GrantRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.UserID)
		assert.Equal(t, 100.0, req.Amount)
		assert.Equal(t, "award:1:7", req.IdempotencyKey)

		json.NewEncoder(w).Encode(GrantResponse{GrantID: "grant_1", Balance: 100.0})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, APIKey: "test-key"})

	resp, err := client.GrantCredits(context.Background(), &GrantRequest{
		UserID:         42,
		Amount:         100.0,
		Reason:         "referred store qualified",
		IdempotencyKey: "award:1:7",
	})
	require.NoError(t, err)
	assert.Equal(t, "grant_1", resp.GrantID)
}

func TestClient_GrantCredits_LedgerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "duplicate idempotency key"})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, APIKey: "test-key"})

	_, err := client.GrantCredits(context.Background(), &GrantRequest{UserID: 42, Amount: 100.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate idempotency key")
}

func TestMockLedger(t *testing.T) {
	mock := NewMockLedger()
	ctx := context.Background()

	resp, err := mock.GrantCredits(ctx, &GrantRequest{UserID: 42, Amount: 100.0})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.GrantID)
	assert.Equal(t, int64(42), mock.LastGrant().UserID)

	mock.FailNext = true
	_, err = mock.GrantCredits(ctx, &GrantRequest{UserID: 43, Amount: 100.0})
	assert.Error(t, err)
	assert.Len(t, mock.Grants, 1)
}
