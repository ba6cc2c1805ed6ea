package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// CommissionRepository commission storage.
type CommissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository creates the commission repository.
func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *CommissionRepository) WithTx(tx *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: tx}
}

// Create creates a commission.
func (r *CommissionRepository) Create(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

// GetByID loads a commission by id.
func (r *CommissionRepository) GetByID(ctx context.Context, id int64) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).First(&commission, id).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// GetByTransactionID loads a commission by platform transaction id.
func (r *CommissionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// ExistsByTransactionID reports whether the transaction was already
// accrued.
func (r *CommissionRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatusFrom flips the status only when the current status
// matches. Returns gorm.ErrRecordNotFound when no row matched.
func (r *CommissionRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.Commission{}).
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

// ListPendingHeldBefore lists pending commissions whose hold has
// elapsed. Input to the hourly approval sweep.
func (r *CommissionRepository) ListPendingHeldBefore(ctx context.Context, cutoff time.Time) ([]*models.Commission, error) {
	var commissions []*models.Commission
	err := r.db.WithContext(ctx).
		Where("status = ? AND hold_until <= ?", models.CommissionStatusPending, cutoff).
		Order("id ASC").
		Find(&commissions).Error
	return commissions, err
}

// SumApprovedUnstamped sums approved commissions not yet attached to a
// payout. This is the amount a payout request can draw on.
func (r *CommissionRepository) SumApprovedUnstamped(ctx context.Context, affiliateID int64) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("affiliate_id = ? AND status = ? AND payout_id IS NULL", affiliateID, models.CommissionStatusApproved).
		Select("COALESCE(SUM(commission_amount), 0)").
		Scan(&total).Error
	return total, err
}

// ListApprovedUnstamped lists approved commissions not yet attached to
// a payout, oldest first. The payout request picks its line items from
// this list.
func (r *CommissionRepository) ListApprovedUnstamped(ctx context.Context, affiliateID int64) ([]*models.Commission, error) {
	var commissions []*models.Commission
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ? AND payout_id IS NULL", affiliateID, models.CommissionStatusApproved).
		Order("id ASC").
		Find(&commissions).Error
	return commissions, err
}

// StampPayoutByIDs attaches the selected commissions to the payout,
// freezing its line items. Guarded so a commission claimed by a
// concurrent payout is not stamped twice; the caller compares the
// returned count against the selection size.
func (r *CommissionRepository) StampPayoutByIDs(ctx context.Context, ids []int64, payoutID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id IN ? AND status = ? AND payout_id IS NULL", ids, models.CommissionStatusApproved).
		Update("payout_id", payoutID)
	return result.RowsAffected, result.Error
}

// MarkPaidByPayoutID marks the payout's commissions paid.
func (r *CommissionRepository) MarkPaidByPayoutID(ctx context.Context, payoutID int64, paidAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("payout_id = ? AND status = ?", payoutID, models.CommissionStatusApproved).
		Updates(map[string]interface{}{
			"status":  models.CommissionStatusPaid,
			"paid_at": paidAt,
		}).Error
}

// ReleaseByPayoutID detaches the payout's commissions so a later
// payout can pick them up again. Used when a payout fails or is
// cancelled.
func (r *CommissionRepository) ReleaseByPayoutID(ctx context.Context, payoutID int64) error {
	return r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("payout_id = ? AND status = ?", payoutID, models.CommissionStatusApproved).
		Update("payout_id", nil).Error
}

// ListByAffiliate lists an affiliate's commissions with filters.
func (r *CommissionRepository) ListByAffiliate(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Commission, int64, error) {
	var commissions []*models.Commission
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Commission{}).Where("affiliate_id = ?", affiliateID)

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

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&commissions).Error; err != nil {
		return nil, 0, err
	}

	return commissions, total, nil
}

// ListByPayoutID lists the commissions attached to a payout.
func (r *CommissionRepository) ListByPayoutID(ctx context.Context, payoutID int64) ([]*models.Commission, error) {
	var commissions []*models.Commission
	err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("id ASC").
		Find(&commissions).Error
	return commissions, err
}

// ListByReferral lists the commissions accrued on a referral.
func (r *CommissionRepository) ListByReferral(ctx context.Context, referralID int64) ([]*models.Commission, error) {
	var commissions []*models.Commission
	err := r.db.WithContext(ctx).
		Where("referral_id = ?", referralID).
		Order("id ASC").
		Find(&commissions).Error
	return commissions, err
}

// GetStatsByAffiliate aggregates commission amounts per status.
func (r *CommissionRepository) GetStatsByAffiliate(ctx context.Context, affiliateID int64) (map[string]interface{}, error) {
	type Stats struct {
		TotalAmount     float64 `gorm:"column:total_amount"`
		PendingAmount   float64 `gorm:"column:pending_amount"`
		ApprovedAmount  float64 `gorm:"column:approved_amount"`
		PaidAmount      float64 `gorm:"column:paid_amount"`
		CancelledAmount float64 `gorm:"column:cancelled_amount"`
		TotalCount      int64   `gorm:"column:total_count"`
	}

	var stats Stats
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Select(`
			COALESCE(SUM(commission_amount), 0) as total_amount,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN commission_amount ELSE 0 END), 0) as pending_amount,
			COALESCE(SUM(CASE WHEN status = 'approved' THEN commission_amount ELSE 0 END), 0) as approved_amount,
			COALESCE(SUM(CASE WHEN status = 'paid' THEN commission_amount ELSE 0 END), 0) as paid_amount,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN commission_amount ELSE 0 END), 0) as cancelled_amount,
			COUNT(*) as total_count
		`).
		Where("affiliate_id = ?", affiliateID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_amount":     stats.TotalAmount,
		"pending_amount":   stats.PendingAmount,
		"approved_amount":  stats.ApprovedAmount,
		"paid_amount":      stats.PaidAmount,
		"cancelled_amount": stats.CancelledAmount,
		"total_count":      stats.TotalCount,
	}, nil
}
