package models

import (
	"time"
)

// Referral tracks one referred visitor from click to qualification.
// A user has at most one active referral: referred_user_id carries a
// unique index (NULLs exempt, so anonymous clicks are unconstrained).
type Referral struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID         int64      `gorm:"index;not null" json:"affiliate_id"`
	ReferredUserID      *int64     `gorm:"uniqueIndex" json:"referred_user_id,omitempty"`
	ReferredEmail       *string    `gorm:"type:varchar(255);index" json:"referred_email,omitempty"`
	ReferredStoreID     *int64     `gorm:"index" json:"referred_store_id,omitempty"`
	Status              string     `gorm:"type:varchar(20);not null;default:'clicked';index" json:"status"`
	Source              *string    `gorm:"type:varchar(50)" json:"source,omitempty"`
	LandingPage         *string    `gorm:"type:varchar(255)" json:"landing_page,omitempty"`
	CookieSetAt         time.Time  `gorm:"not null" json:"cookie_set_at"`
	CookieExpiresAt     time.Time  `gorm:"not null;index" json:"cookie_expires_at"`
	SignedUpAt          *time.Time `json:"signed_up_at,omitempty"`
	ConvertedAt         *time.Time `json:"converted_at,omitempty"`
	FirstPurchaseAt     *time.Time `json:"first_purchase_at,omitempty"`
	FirstPurchaseAmount *float64   `gorm:"type:decimal(12,2)" json:"first_purchase_amount,omitempty"`
	TotalPurchases      int        `gorm:"not null;default:0" json:"total_purchases"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName table name.
func (Referral) TableName() string {
	return "referrals"
}

// Referral statuses, in lifecycle order.
const (
	ReferralStatusClicked   = "clicked"
	ReferralStatusSignedUp  = "signed_up"
	ReferralStatusConverted = "converted"
	ReferralStatusQualified = "qualified"
)

// ActiveReferralStatuses are the statuses in which a referral is bound
// to a user and earns attribution.
var ActiveReferralStatuses = []string{
	ReferralStatusSignedUp,
	ReferralStatusConverted,
	ReferralStatusQualified,
}
