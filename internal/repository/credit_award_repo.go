package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// CreditAwardRepository store credit award storage.
type CreditAwardRepository struct {
	db *gorm.DB
}

// NewCreditAwardRepository creates the credit award repository.
func NewCreditAwardRepository(db *gorm.DB) *CreditAwardRepository {
	return &CreditAwardRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *CreditAwardRepository) WithTx(tx *gorm.DB) *CreditAwardRepository {
	return &CreditAwardRepository{db: tx}
}

// Create inserts an award. The composite unique index on
// (affiliate_id, referred_store_id) rejects a concurrent duplicate;
// the caller treats that conflict as already-awarded.
func (r *CreditAwardRepository) Create(ctx context.Context, award *models.StoreCreditAward) error {
	return r.db.WithContext(ctx).Create(award).Error
}

// MarkGranted stamps the award once the platform ledger confirms the
// grant. Guarded so a concurrent sweep cannot stamp twice.
func (r *CreditAwardRepository) MarkGranted(ctx context.Context, id int64, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.StoreCreditAward{}).
		Where("id = ? AND granted_at IS NULL", id).
		Update("granted_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListUngranted lists the affiliate's award rows whose ledger grant has
// not been confirmed yet. The sweep retries these before scanning for
// new candidates.
func (r *CreditAwardRepository) ListUngranted(ctx context.Context, affiliateID int64) ([]*models.StoreCreditAward, error) {
	var awards []*models.StoreCreditAward
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND granted_at IS NULL", affiliateID).
		Order("id ASC").
		Find(&awards).Error
	return awards, err
}

// ExistsFor reports whether the affiliate was already awarded for the
// store.
func (r *CreditAwardRepository) ExistsFor(ctx context.Context, affiliateID, storeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StoreCreditAward{}).
		Where("affiliate_id = ? AND referred_store_id = ?", affiliateID, storeID).
		Count(&count).Error
	return count > 0, err
}

// ListStoreIDsFor lists the store ids the affiliate has been awarded
// for.
func (r *CreditAwardRepository) ListStoreIDsFor(ctx context.Context, affiliateID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.StoreCreditAward{}).
		Where("affiliate_id = ?", affiliateID).
		Pluck("referred_store_id", &ids).Error
	return ids, err
}

// ListByAffiliate lists an affiliate's awards.
func (r *CreditAwardRepository) ListByAffiliate(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.StoreCreditAward, int64, error) {
	var awards []*models.StoreCreditAward
	var total int64

	query := r.db.WithContext(ctx).Model(&models.StoreCreditAward{}).Where("affiliate_id = ?", affiliateID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&awards).Error; err != nil {
		return nil, 0, err
	}

	return awards, total, nil
}

// SumCreditsByAffiliate sums credits the affiliate has actually
// received. Rows still waiting on the ledger are excluded.
func (r *CreditAwardRepository) SumCreditsByAffiliate(ctx context.Context, affiliateID int64) (float64, error) {
	var sum float64
	err := r.db.WithContext(ctx).Model(&models.StoreCreditAward{}).
		Select("COALESCE(SUM(credits_granted), 0)").
		Where("affiliate_id = ? AND granted_at IS NOT NULL", affiliateID).
		Scan(&sum).Error
	return sum, err
}
