package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// ReferralRepository referral storage.
type ReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository creates the referral repository.
func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *ReferralRepository) WithTx(tx *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: tx}
}

// Create creates a referral.
func (r *ReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

// GetByID loads a referral by id.
func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).First(&referral, id).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetActiveByUserID loads the referral a user is currently bound to,
// if any. At most one exists per user.
func (r *ReferralRepository) GetActiveByUserID(ctx context.Context, userID int64) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_user_id = ? AND status IN ?", userID, models.ActiveReferralStatuses).
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetClickedByEmail returns the freshest unexpired clicked referral
// recorded for the email, used to attribute a signup to a click.
func (r *ReferralRepository) GetClickedByEmail(ctx context.Context, email string, now time.Time) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_email = ? AND status = ? AND cookie_expires_at > ?", email, models.ReferralStatusClicked, now).
		Order("cookie_set_at DESC").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// Update saves a referral.
func (r *ReferralRepository) Update(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Save(referral).Error
}

// UpdateFields updates selected fields.
func (r *ReferralRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Referral{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateStatusFrom flips the status only when the current status
// matches. Returns gorm.ErrRecordNotFound when no row matched.
func (r *ReferralRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementPurchases bumps the purchase counter.
func (r *ReferralRepository) IncrementPurchases(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ?", id).
		UpdateColumn("total_purchases", gorm.Expr("total_purchases + 1")).
		Error
}

// ListByAffiliate lists an affiliate's referrals with filters.
func (r *ReferralRepository) ListByAffiliate(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Referral, int64, error) {
	var referrals []*models.Referral
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Referral{}).Where("affiliate_id = ?", affiliateID)

	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if start, ok := filters["start_time"].(time.Time); ok {
		query = query.Where("created_at >= ?", start)
	}
	if end, ok := filters["end_time"].(time.Time); ok {
		query = query.Where("created_at <= ?", end)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&referrals).Error; err != nil {
		return nil, 0, err
	}

	return referrals, total, nil
}

// CountByAffiliateAndStatus counts an affiliate's referrals per status.
func (r *ReferralRepository) CountByAffiliateAndStatus(ctx context.Context, affiliateID int64, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("affiliate_id = ? AND status = ?", affiliateID, status).
		Count(&count).Error
	return count, err
}

// ListQualifiedWithStore lists an affiliate's qualified referrals that
// carry a referred store id. Input to the credit award sweep.
func (r *ReferralRepository) ListQualifiedWithStore(ctx context.Context, affiliateID int64) ([]*models.Referral, error) {
	var referrals []*models.Referral
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ? AND referred_store_id IS NOT NULL", affiliateID, models.ReferralStatusQualified).
		Order("id ASC").
		Find(&referrals).Error
	return referrals, err
}

// ListActiveWithStore lists an affiliate's active referrals bound to a
// store, regardless of qualification.
func (r *ReferralRepository) ListActiveWithStore(ctx context.Context, affiliateID int64) ([]*models.Referral, error) {
	var referrals []*models.Referral
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status IN ? AND referred_store_id IS NOT NULL", affiliateID, models.ActiveReferralStatuses).
		Order("id ASC").
		Find(&referrals).Error
	return referrals, err
}
