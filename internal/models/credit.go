package models

import (
	"time"
)

// StoreCreditAward records a one-time store credit granted to an
// affiliate for a referred store. The composite unique index is the
// backstop against concurrent double-grants. The row is inserted
// before the platform ledger is called and stays in place whatever the
// call returns; granted_at is set only once the ledger confirms, so a
// NULL marks a grant the sweep still owes.
type StoreCreditAward struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID     int64      `gorm:"not null;uniqueIndex:idx_award_affiliate_store" json:"affiliate_id"`
	ReferredStoreID int64      `gorm:"not null;uniqueIndex:idx_award_affiliate_store" json:"referred_store_id"`
	ReferralID      int64      `gorm:"index;not null" json:"referral_id"`
	CreditsGranted  float64    `gorm:"type:decimal(12,2);not null" json:"credits_granted"`
	QualifiedAt     time.Time  `gorm:"not null" json:"qualified_at"`
	AwardedAt       time.Time  `gorm:"not null" json:"awarded_at"`
	GrantedAt       *time.Time `gorm:"index" json:"granted_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName table name.
func (StoreCreditAward) TableName() string {
	return "store_credit_awards"
}
