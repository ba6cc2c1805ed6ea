package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// Ledger owns the balance columns on the affiliate row. Every
// mutation is a single relative UPDATE so concurrent writers compose;
// nothing here reads a balance and writes it back. The row always
// satisfies total_earnings = total_paid_out + pending_balance.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates the ledger.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// AccrueEarnings credits a newly earned commission: lifetime earnings
// and pending balance both grow by the amount.
func (l *Ledger) AccrueEarnings(ctx context.Context, affiliateID int64, amount float64) error {
	if amount <= 0 {
		return nil
	}
	result := l.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Updates(map[string]interface{}{
			"total_earnings":  gorm.Expr("total_earnings + ?", amount),
			"pending_balance": gorm.Expr("pending_balance + ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SettlePayout moves a completed payout from pending to paid out. The
// balance guard makes overdraw impossible: when the pending balance
// no longer covers the amount, no row matches and the caller gets
// gorm.ErrRecordNotFound.
func (l *Ledger) SettlePayout(ctx context.Context, affiliateID int64, amount float64) error {
	result := l.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ? AND pending_balance >= ?", affiliateID, amount).
		Updates(map[string]interface{}{
			"pending_balance": gorm.Expr("pending_balance - ?", amount),
			"total_paid_out":  gorm.Expr("total_paid_out + ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReleasePending reverses an accrual after a commission is cancelled:
// lifetime earnings and pending balance both shrink. Both columns are
// floored at zero so a late cancellation after rounding drift cannot
// push a balance negative.
func (l *Ledger) ReleasePending(ctx context.Context, affiliateID int64, amount float64) error {
	if amount <= 0 {
		return nil
	}
	result := l.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Updates(map[string]interface{}{
			"total_earnings":  gorm.Expr("CASE WHEN total_earnings >= ? THEN total_earnings - ? ELSE 0 END", amount, amount),
			"pending_balance": gorm.Expr("CASE WHEN pending_balance >= ? THEN pending_balance - ? ELSE 0 END", amount, amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetBalances reads the three balance columns.
func (l *Ledger) GetBalances(ctx context.Context, affiliateID int64) (totalEarnings, pendingBalance, totalPaidOut float64, err error) {
	var affiliate models.Affiliate
	err = l.db.WithContext(ctx).
		Select("total_earnings", "pending_balance", "total_paid_out").
		First(&affiliate, affiliateID).Error
	if err != nil {
		return 0, 0, 0, err
	}
	return affiliate.TotalEarnings, affiliate.PendingBalance, affiliate.TotalPaidOut, nil
}
