// Package repository provides the data access layer.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// AffiliateRepository affiliate storage.
type AffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository creates the affiliate repository.
func NewAffiliateRepository(db *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *AffiliateRepository) WithTx(tx *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: tx}
}

// Create creates an affiliate.
func (r *AffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(affiliate).Error
}

// GetByID loads an affiliate by id.
func (r *AffiliateRepository) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).First(&affiliate, id).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByIDWithTier loads an affiliate with its tier preloaded.
func (r *AffiliateRepository) GetByIDWithTier(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).Preload("Tier").First(&affiliate, id).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByUserID loads an affiliate by platform user id.
func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByReferralCode loads an affiliate by referral code.
func (r *AffiliateRepository) GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// Update saves an affiliate.
func (r *AffiliateRepository) Update(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Save(affiliate).Error
}

// UpdateFields updates selected fields.
func (r *AffiliateRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateStatusFrom flips the status only when the current status
// matches. Returns gorm.ErrRecordNotFound when no row matched.
func (r *AffiliateRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
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

// ExistsByUserID reports whether the user is already an affiliate.
func (r *AffiliateRepository) ExistsByUserID(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("user_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// ExistsByReferralCode reports whether the referral code is taken.
func (r *AffiliateRepository) ExistsByReferralCode(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("referral_code = ?", code).Count(&count).Error
	return count > 0, err
}

// IncrementReferrals bumps the click counter. Eventually consistent
// with the referrals table; never used for money.
func (r *AffiliateRepository) IncrementReferrals(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn("total_referrals", gorm.Expr("total_referrals + 1")).
		Error
}

// IncrementConversions bumps the conversion counter.
func (r *AffiliateRepository) IncrementConversions(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn("total_conversions", gorm.Expr("total_conversions + 1")).
		Error
}

// List lists affiliates with filters.
func (r *AffiliateRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	var affiliates []*models.Affiliate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Affiliate{})

	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if tierID, ok := filters["tier_id"].(int64); ok && tierID > 0 {
		query = query.Where("tier_id = ?", tierID)
	}
	if email, ok := filters["email"].(string); ok && email != "" {
		query = query.Where("email = ?", email)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Preload("Tier").Order("id DESC").Offset(offset).Limit(limit).Find(&affiliates).Error; err != nil {
		return nil, 0, err
	}

	return affiliates, total, nil
}

// GetPendingList lists affiliates awaiting review, oldest first.
func (r *AffiliateRepository) GetPendingList(ctx context.Context, offset, limit int) ([]*models.Affiliate, int64, error) {
	var affiliates []*models.Affiliate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("status = ?", models.AffiliateStatusPending)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id ASC").Offset(offset).Limit(limit).Find(&affiliates).Error; err != nil {
		return nil, 0, err
	}

	return affiliates, total, nil
}

// CountByStatus counts affiliates per status.
func (r *AffiliateRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ListApprovedWithCreditsReward lists approved affiliates on the
// credits reward plan. Input to the credit award sweep.
func (r *AffiliateRepository) ListApprovedWithCreditsReward(ctx context.Context) ([]*models.Affiliate, error) {
	var affiliates []*models.Affiliate
	err := r.db.WithContext(ctx).
		Where("status = ? AND reward_type = ?", models.AffiliateStatusApproved, models.RewardTypeCredits).
		Order("id ASC").
		Find(&affiliates).Error
	return affiliates, err
}

// GetTopEarners returns the top affiliates by lifetime earnings.
func (r *AffiliateRepository) GetTopEarners(ctx context.Context, limit int) ([]*models.Affiliate, error) {
	var affiliates []*models.Affiliate
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AffiliateStatusApproved).
		Order("total_earnings DESC").
		Limit(limit).
		Find(&affiliates).Error
	return affiliates, err
}

// SetApproved marks an affiliate approved with its tier assignment.
func (r *AffiliateRepository) SetApproved(ctx context.Context, id int64, tierID *int64, approvedAt time.Time) error {
	return r.UpdateStatusFrom(ctx, id, models.AffiliateStatusPending, models.AffiliateStatusApproved, map[string]interface{}{
		"tier_id":     tierID,
		"approved_at": approvedAt,
	})
}
