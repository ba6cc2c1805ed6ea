package models

import (
	"time"
)

// Affiliate is a member of the affiliate program.
//
// The monetary counters satisfy the ledger identity
// total_earnings = total_paid_out + pending_balance; every change goes
// through repository.Ledger as an atomic delta.
type Affiliate struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	Email            string     `gorm:"type:varchar(255);not null" json:"email"`
	Name             string     `gorm:"type:varchar(100);not null" json:"name"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	TierID           *int64     `gorm:"index" json:"tier_id,omitempty"`
	CustomRate       *float64   `gorm:"type:decimal(10,4)" json:"custom_rate,omitempty"`
	CustomRateType   *string    `gorm:"type:varchar(20)" json:"custom_rate_type,omitempty"`
	RewardType       string     `gorm:"type:varchar(20);not null;default:'commission'" json:"reward_type"`
	ReferralCode     string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"referral_code"`
	TotalEarnings    float64    `gorm:"type:decimal(12,2);not null;default:0" json:"total_earnings"`
	PendingBalance   float64    `gorm:"type:decimal(12,2);not null;default:0" json:"pending_balance"`
	TotalPaidOut     float64    `gorm:"type:decimal(12,2);not null;default:0" json:"total_paid_out"`
	TotalReferrals   int        `gorm:"not null;default:0" json:"total_referrals"`
	TotalConversions int        `gorm:"not null;default:0" json:"total_conversions"`
	GatewayAccountID *string    `gorm:"type:varchar(64)" json:"gateway_account_id,omitempty"`
	PayoutsEnabled   bool       `gorm:"not null;default:false" json:"payouts_enabled"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Tier *AffiliateTier `gorm:"foreignKey:TierID" json:"tier,omitempty"`
}

// TableName table name.
func (Affiliate) TableName() string {
	return "affiliates"
}

// Affiliate statuses.
const (
	AffiliateStatusPending   = "pending"
	AffiliateStatusApproved  = "approved"
	AffiliateStatusRejected  = "rejected"
	AffiliateStatusSuspended = "suspended"
)

// Reward types.
const (
	RewardTypeCommission = "commission"
	RewardTypeCredits    = "credits"
)

// AffiliateTier is a named commission plan.
type AffiliateTier struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	CommissionType  string    `gorm:"type:varchar(20);not null;default:'percentage'" json:"commission_type"`
	CommissionRate  float64   `gorm:"type:decimal(10,4);not null" json:"commission_rate"`
	MinPayoutAmount float64   `gorm:"type:decimal(12,2);not null;default:0" json:"min_payout_amount"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName table name.
func (AffiliateTier) TableName() string {
	return "affiliate_tiers"
}

// Commission rate types.
const (
	CommissionTypePercentage = "percentage"
	CommissionTypeFixed      = "fixed"
)
