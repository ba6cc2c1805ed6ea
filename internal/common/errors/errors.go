// Package errors defines business error codes and error handling.
package errors

import (
	"fmt"
)

// AppError is the application error carried across layers.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an application error.
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an underlying error.
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithMessage returns a copy with a different message.
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// WithError returns a copy carrying the underlying error.
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Common error codes (1000-1999)
var (
	ErrUnknown         = New(1000, "unknown error")
	ErrInvalidParams   = New(1001, "invalid parameters")
	ErrNotFound        = New(1002, "resource not found")
	ErrAlreadyExists   = New(1003, "resource already exists")
	ErrDatabaseError   = New(1004, "database error")
	ErrCacheError      = New(1005, "cache error")
	ErrInternalError   = New(1006, "internal error")
	ErrExternalService = New(1007, "external service error")
	ErrRateLimitExceed = New(1008, "too many requests")
	ErrOperationFailed = New(1009, "operation failed")
)

// Auth error codes (2000-2999)
var (
	ErrUnauthorized     = New(2000, "not authenticated")
	ErrTokenExpired     = New(2001, "token expired")
	ErrTokenInvalid     = New(2002, "invalid token")
	ErrPermissionDenied = New(2003, "permission denied")
	ErrAccountDisabled  = New(2004, "account disabled")
)

// Affiliate error codes (3000-3999)
var (
	ErrAffiliateNotFound     = New(3000, "affiliate not found")
	ErrAffiliateExists       = New(3001, "user is already an affiliate")
	ErrAffiliateNotApproved  = New(3002, "affiliate is not approved")
	ErrAffiliateSuspended    = New(3003, "affiliate is suspended")
	ErrAffiliateStatusError  = New(3004, "affiliate status does not allow this operation")
	ErrTierNotFound          = New(3005, "affiliate tier not found")
	ErrGatewayAccountMissing = New(3006, "affiliate has no payout account")
	ErrPayoutsDisabled       = New(3007, "payouts are not enabled for this affiliate")
)

// Referral error codes (4000-4999)
var (
	ErrReferralNotFound    = New(4000, "referral not found")
	ErrInvalidReferralCode = New(4001, "invalid referral code")
	ErrReferralExpired     = New(4002, "referral attribution window has expired")
	ErrUserAlreadyReferred = New(4003, "user already has an active referral")
)

// Commission error codes (5000-5999)
var (
	ErrCommissionNotFound    = New(5000, "commission not found")
	ErrCommissionStatusError = New(5001, "commission status does not allow this operation")
	ErrDuplicateTransaction  = New(5002, "transaction already has a commission")
	ErrCommissionOnHold      = New(5003, "commission hold period has not elapsed")
)

// Payout error codes (6000-6999)
var (
	ErrPayoutNotFound       = New(6000, "payout not found")
	ErrPayoutStatusError    = New(6001, "payout status does not allow this operation")
	ErrPayoutBelowMinimum   = New(6002, "amount is below the minimum payout")
	ErrBalanceInsufficient  = New(6003, "pending balance is insufficient")
	ErrPayoutAlreadyClaimed = New(6004, "payout is already being processed")
	ErrPayoutAmountInvalid  = New(6005, "invalid payout amount")
	ErrNothingToPayOut      = New(6006, "no approved commissions to pay out")
)

// Credit award error codes (7000-7999)
var (
	ErrCreditAwardNotFound  = New(7000, "credit award not found")
	ErrCreditAlreadyAwarded = New(7001, "credits already awarded for this store")
	ErrStoreNotQualified    = New(7002, "store does not qualify for a credit award")
	ErrCreditGrantFailed    = New(7003, "credit grant failed")
)

// Gateway error codes (8000-8999)
var (
	ErrGatewayUnavailable   = New(8000, "payment gateway unavailable")
	ErrGatewayTimeout       = New(8001, "payment gateway timed out")
	ErrGatewayDeclined      = New(8002, "payment gateway declined the transfer")
	ErrGatewayAccountError  = New(8003, "payment gateway account error")
	ErrGatewayResponseError = New(8004, "unexpected payment gateway response")
)

// IsAppError reports whether err is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts the AppError, wrapping unknown errors.
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrUnknown.WithError(err)
}
