package models

import (
	"time"
)

// Store is the platform store snapshot the credit award sweep reads.
// Rows are synced from the main platform; this service never mutates
// them.
type Store struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	OwnerUserID int64      `gorm:"index;not null" json:"owner_user_id"`
	Name        string     `gorm:"type:varchar(100);not null" json:"name"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName table name.
func (Store) TableName() string {
	return "stores"
}
