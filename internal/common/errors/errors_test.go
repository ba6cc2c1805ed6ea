// Package errors error code and error handling unit tests
package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== AppError basics ====================

func TestNew(t *testing.T) {
	err := New(1001, "invalid parameters")
	require.NotNil(t, err)
	assert.Equal(t, 1001, err.Code)
	assert.Equal(t, "invalid parameters", err.Message)
	assert.Nil(t, err.Err)
}

func TestWrap(t *testing.T) {
	originalErr := stderrors.New("database connection failed")
	err := Wrap(1004, "database error", originalErr)

	require.NotNil(t, err)
	assert.Equal(t, 1004, err.Code)
	assert.Equal(t, "database error", err.Message)
	assert.Equal(t, originalErr, err.Err)
}

// ==================== AppError methods ====================

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "Error without underlying error",
			appError: New(1001, "invalid parameters"),
			want:     "[1001] invalid parameters",
		},
		{
			name:     "Error with underlying error",
			appError: Wrap(1004, "database error", stderrors.New("connection timeout")),
			want:     "[1004] database error: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := stderrors.New("original error")
	err := Wrap(1000, "wrapped error", originalErr)

	unwrapped := err.Unwrap()
	assert.Equal(t, originalErr, unwrapped)
}

func TestAppError_WithMessage(t *testing.T) {
	original := New(1001, "original message")
	modified := original.WithMessage("modified message")

	assert.Equal(t, 1001, modified.Code)
	assert.Equal(t, "modified message", modified.Message)
	assert.Nil(t, modified.Err)

	// The original must stay untouched.
	assert.Equal(t, "original message", original.Message)
}

func TestAppError_WithError(t *testing.T) {
	original := New(1001, "invalid parameters")
	underlyingErr := stderrors.New("validation failed")
	modified := original.WithError(underlyingErr)

	assert.Equal(t, 1001, modified.Code)
	assert.Equal(t, "invalid parameters", modified.Message)
	assert.Equal(t, underlyingErr, modified.Err)

	// The original must stay untouched.
	assert.Nil(t, original.Err)
}

// ==================== error code constants ====================

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrUnknown", ErrUnknown, 1000},
		{"ErrInvalidParams", ErrInvalidParams, 1001},
		{"ErrNotFound", ErrNotFound, 1002},
		{"ErrAlreadyExists", ErrAlreadyExists, 1003},
		{"ErrDatabaseError", ErrDatabaseError, 1004},
		{"ErrCacheError", ErrCacheError, 1005},
		{"ErrInternalError", ErrInternalError, 1006},
		{"ErrExternalService", ErrExternalService, 1007},
		{"ErrRateLimitExceed", ErrRateLimitExceed, 1008},
		{"ErrOperationFailed", ErrOperationFailed, 1009},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrUnauthorized", ErrUnauthorized, 2000},
		{"ErrTokenExpired", ErrTokenExpired, 2001},
		{"ErrTokenInvalid", ErrTokenInvalid, 2002},
		{"ErrPermissionDenied", ErrPermissionDenied, 2003},
		{"ErrAccountDisabled", ErrAccountDisabled, 2004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestAffiliateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrAffiliateNotFound", ErrAffiliateNotFound, 3000},
		{"ErrAffiliateExists", ErrAffiliateExists, 3001},
		{"ErrAffiliateNotApproved", ErrAffiliateNotApproved, 3002},
		{"ErrAffiliateSuspended", ErrAffiliateSuspended, 3003},
		{"ErrAffiliateStatusError", ErrAffiliateStatusError, 3004},
		{"ErrTierNotFound", ErrTierNotFound, 3005},
		{"ErrGatewayAccountMissing", ErrGatewayAccountMissing, 3006},
		{"ErrPayoutsDisabled", ErrPayoutsDisabled, 3007},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestReferralErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrReferralNotFound", ErrReferralNotFound, 4000},
		{"ErrInvalidReferralCode", ErrInvalidReferralCode, 4001},
		{"ErrReferralExpired", ErrReferralExpired, 4002},
		{"ErrUserAlreadyReferred", ErrUserAlreadyReferred, 4003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestCommissionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrCommissionNotFound", ErrCommissionNotFound, 5000},
		{"ErrCommissionStatusError", ErrCommissionStatusError, 5001},
		{"ErrDuplicateTransaction", ErrDuplicateTransaction, 5002},
		{"ErrCommissionOnHold", ErrCommissionOnHold, 5003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestPayoutErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrPayoutNotFound", ErrPayoutNotFound, 6000},
		{"ErrPayoutStatusError", ErrPayoutStatusError, 6001},
		{"ErrPayoutBelowMinimum", ErrPayoutBelowMinimum, 6002},
		{"ErrBalanceInsufficient", ErrBalanceInsufficient, 6003},
		{"ErrPayoutAlreadyClaimed", ErrPayoutAlreadyClaimed, 6004},
		{"ErrPayoutAmountInvalid", ErrPayoutAmountInvalid, 6005},
		{"ErrNothingToPayOut", ErrNothingToPayOut, 6006},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestCreditAwardErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrCreditAwardNotFound", ErrCreditAwardNotFound, 7000},
		{"ErrCreditAlreadyAwarded", ErrCreditAlreadyAwarded, 7001},
		{"ErrStoreNotQualified", ErrStoreNotQualified, 7002},
		{"ErrCreditGrantFailed", ErrCreditGrantFailed, 7003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestGatewayErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrGatewayUnavailable", ErrGatewayUnavailable, 8000},
		{"ErrGatewayTimeout", ErrGatewayTimeout, 8001},
		{"ErrGatewayDeclined", ErrGatewayDeclined, 8002},
		{"ErrGatewayAccountError", ErrGatewayAccountError, 8003},
		{"ErrGatewayResponseError", ErrGatewayResponseError, 8004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// ==================== helpers ====================

func TestIsAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"AppError", ErrUnknown, true},
		{"AppError created by New", New(1001, "test"), true},
		{"Standard error", stderrors.New("standard error"), false},
		{"Nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsAppError(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAppError(t *testing.T) {
	t.Run("From AppError", func(t *testing.T) {
		original := ErrInvalidParams
		got := GetAppError(original)
		assert.Equal(t, original, got)
	})

	t.Run("From standard error", func(t *testing.T) {
		standardErr := stderrors.New("standard error")
		got := GetAppError(standardErr)

		assert.Equal(t, ErrUnknown.Code, got.Code)
		assert.Equal(t, standardErr, got.Err)
	})

	t.Run("Preserves underlying error", func(t *testing.T) {
		underlyingErr := stderrors.New("database failed")
		appErr := Wrap(1004, "database error", underlyingErr)

		got := GetAppError(appErr)
		assert.Equal(t, appErr, got)
	})
}

// ==================== error chains ====================

func TestErrorChaining(t *testing.T) {
	originalErr := stderrors.New("connection timeout")
	wrappedErr := Wrap(1004, "database error", originalErr)

	unwrapped := wrappedErr.Unwrap()
	assert.Equal(t, originalErr, unwrapped)

	assert.Contains(t, wrappedErr.Error(), "connection timeout")
	assert.Contains(t, wrappedErr.Error(), "database error")
	assert.Contains(t, wrappedErr.Error(), "1004")
}

// ==================== edge cases ====================

func TestAppError_EmptyMessage(t *testing.T) {
	err := New(9999, "")
	assert.Equal(t, 9999, err.Code)
	assert.Equal(t, "", err.Message)
	assert.Equal(t, "[9999] ", err.Error())
}

func TestAppError_ZeroCode(t *testing.T) {
	err := New(0, "zero code error")
	assert.Equal(t, 0, err.Code)
	assert.Equal(t, "zero code error", err.Message)
}

func TestAppError_NegativeCode(t *testing.T) {
	err := New(-1, "negative code")
	assert.Equal(t, -1, err.Code)
	assert.Equal(t, "negative code", err.Message)
}

// ==================== chained modification ====================

func TestAppError_ChainedModifications(t *testing.T) {
	original := New(1001, "original error")

	modified := original.
		WithMessage("modified message").
		WithError(stderrors.New("underlying error"))

	assert.Equal(t, 1001, modified.Code)
	assert.Equal(t, "modified message", modified.Message)
	assert.NotNil(t, modified.Err)

	// The original must stay untouched.
	assert.Equal(t, "original error", original.Message)
	assert.Nil(t, original.Err)
}
