package models

import (
	"time"
)

// Payout is one transfer of earned commission to an affiliate. The
// pending->processing flip is the mutual exclusion point: only the
// caller whose conditional update hits a row may talk to the gateway.
type Payout struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutNo          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"`
	AffiliateID       int64      `gorm:"index;not null" json:"affiliate_id"`
	Amount            float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayAccountID  string     `gorm:"type:varchar(64);not null" json:"gateway_account_id"`
	GatewayTransferID *string    `gorm:"type:varchar(64)" json:"gateway_transfer_id,omitempty"`
	FailureReason     *string    `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	RequestedBy       int64      `gorm:"not null" json:"requested_by"`
	ProcessedBy       *int64     `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName table name.
func (Payout) TableName() string {
	return "payouts"
}

// Payout statuses. completed, failed and cancelled are terminal.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)
