package models

import (
	"time"
)

// Commission is one earned reward on a referred purchase. The unique
// transaction_id index makes accrual idempotent per purchase.
type Commission struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID      int64      `gorm:"index;not null" json:"affiliate_id"`
	ReferralID       int64      `gorm:"index;not null" json:"referral_id"`
	TransactionID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	SourceType       string     `gorm:"type:varchar(30);not null;default:'purchase'" json:"source_type"`
	PurchaseAmount   float64    `gorm:"type:decimal(12,2);not null" json:"purchase_amount"`
	CommissionType   string     `gorm:"type:varchar(20);not null" json:"commission_type"`
	CommissionRate   float64    `gorm:"type:decimal(10,4);not null" json:"commission_rate"`
	CommissionAmount float64    `gorm:"type:decimal(12,2);not null" json:"commission_amount"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	HoldUntil        time.Time  `gorm:"not null;index" json:"hold_until"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	PayoutID         *int64     `gorm:"index" json:"payout_id,omitempty"`
	CancelledReason  *string    `gorm:"type:varchar(255)" json:"cancelled_reason,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
	Referral  *Referral  `gorm:"foreignKey:ReferralID" json:"referral,omitempty"`
}

// TableName table name.
func (Commission) TableName() string {
	return "commissions"
}

// Commission statuses.
const (
	CommissionStatusPending   = "pending"
	CommissionStatusApproved  = "approved"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// Commission source types.
const (
	CommissionSourcePurchase     = "purchase"
	CommissionSourceSubscription = "subscription"
)
