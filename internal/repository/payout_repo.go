package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// PayoutRepository payout storage.
type PayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates the payout repository.
func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *PayoutRepository) WithTx(tx *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: tx}
}

// Create creates a payout.
func (r *PayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// GetByID loads a payout by id.
func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, id).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetByPayoutNo loads a payout by payout number.
func (r *PayoutRepository) GetByPayoutNo(ctx context.Context, payoutNo string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).Where("payout_no = ?", payoutNo).First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// HasOpenPayout reports whether the affiliate already has a payout in
// flight. One open payout per affiliate at a time.
func (r *PayoutRepository) HasOpenPayout(ctx context.Context, affiliateID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("affiliate_id = ? AND status IN ?", affiliateID,
			[]string{models.PayoutStatusPending, models.PayoutStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

// MarkProcessing flips pending to processing. Exactly one caller wins;
// losers get gorm.ErrRecordNotFound.
func (r *PayoutRepository) MarkProcessing(ctx context.Context, id, adminID int64) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusProcessing,
			"processed_by": adminID,
			"processed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkCompleted flips processing to completed with the gateway
// transfer id.
func (r *PayoutRepository) MarkCompleted(ctx context.Context, id int64, transferID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":              models.PayoutStatusCompleted,
			"gateway_transfer_id": transferID,
			"completed_at":        now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkFailed flips processing to failed with the reason.
func (r *PayoutRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":         models.PayoutStatusFailed,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkCancelled flips pending to cancelled. Only a payout nobody has
// started processing can be cancelled.
func (r *PayoutRepository) MarkCancelled(ctx context.Context, id int64, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PayoutStatusCancelled,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateAmount shrinks a pending payout after one of its line items is
// cancelled. A payout already being processed keeps its amount.
func (r *PayoutRepository) UpdateAmount(ctx context.Context, id int64, amount float64) error {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Update("amount", amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetStaleProcessing lists payouts stuck in processing since before
// the cutoff. Input to the recovery sweep.
func (r *PayoutRepository) GetStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", models.PayoutStatusProcessing, cutoff).
		Order("id ASC").
		Find(&payouts).Error
	return payouts, err
}

// ListByAffiliate lists an affiliate's payouts.
func (r *PayoutRepository) ListByAffiliate(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.Payout, int64, error) {
	var payouts []*models.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payout{}).Where("affiliate_id = ?", affiliateID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&payouts).Error; err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}

// List lists payouts with filters.
func (r *PayoutRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	var payouts []*models.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payout{})

	if affiliateID, ok := filters["affiliate_id"].(int64); ok && affiliateID > 0 {
		query = query.Where("affiliate_id = ?", affiliateID)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if startTime, ok := filters["start_time"].(time.Time); ok {
		query = query.Where("created_at >= ?", startTime)
	}
	if endTime, ok := filters["end_time"].(time.Time); ok {
		query = query.Where("created_at <= ?", endTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Preload("Affiliate").Order("id DESC").Offset(offset).Limit(limit).Find(&payouts).Error; err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}

// SumByAffiliate sums an affiliate's payouts, optionally per status.
func (r *PayoutRepository) SumByAffiliate(ctx context.Context, affiliateID int64, status *string) (float64, error) {
	var sum float64
	query := r.db.WithContext(ctx).Model(&models.Payout{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("affiliate_id = ?", affiliateID)

	if status != nil {
		query = query.Where("status = ?", *status)
	}

	err := query.Scan(&sum).Error
	return sum, err
}

// ExistsPayoutNo reports whether the payout number is taken.
func (r *PayoutRepository) ExistsPayoutNo(ctx context.Context, payoutNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("payout_no = ?", payoutNo).
		Count(&count).Error
	return count > 0, err
}
