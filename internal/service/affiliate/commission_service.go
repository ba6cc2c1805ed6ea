package affiliate

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/common/config"
	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/common/logger"
	"github.com/shopora/affiliate-backend/internal/common/metrics"
	"github.com/shopora/affiliate-backend/internal/common/utils"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/notify"
)

// CommissionService accrues, holds, approves and cancels commissions.
type CommissionService struct {
	commissionRepo *repository.CommissionRepository
	referralRepo   *repository.ReferralRepository
	affiliateRepo  *repository.AffiliateRepository
	payoutRepo     *repository.PayoutRepository
	ledger         *repository.Ledger
	db             *gorm.DB
	cfg            *config.CommissionConfig
	notifier       notify.Notifier
}

// NewCommissionService creates the commission service.
func NewCommissionService(
	commissionRepo *repository.CommissionRepository,
	referralRepo *repository.ReferralRepository,
	affiliateRepo *repository.AffiliateRepository,
	payoutRepo *repository.PayoutRepository,
	ledger *repository.Ledger,
	db *gorm.DB,
	cfg *config.CommissionConfig,
	notifier notify.Notifier,
) *CommissionService {
	return &CommissionService{
		commissionRepo: commissionRepo,
		referralRepo:   referralRepo,
		affiliateRepo:  affiliateRepo,
		payoutRepo:     payoutRepo,
		ledger:         ledger,
		db:             db,
		cfg:            cfg,
		notifier:       notifier,
	}
}

// ResolvedRate is the commission rate chosen for an affiliate.
type ResolvedRate struct {
	Type string
	Rate float64
}

// resolveRate picks the affiliate's rate: a per-affiliate override
// wins, then the tier, then the platform default.
func (s *CommissionService) resolveRate(affiliate *models.Affiliate) ResolvedRate {
	if affiliate.CustomRate != nil && affiliate.CustomRateType != nil {
		return ResolvedRate{Type: *affiliate.CustomRateType, Rate: *affiliate.CustomRate}
	}
	if affiliate.Tier != nil {
		return ResolvedRate{Type: affiliate.Tier.CommissionType, Rate: affiliate.Tier.CommissionRate}
	}
	return ResolvedRate{Type: models.CommissionTypePercentage, Rate: s.cfg.DefaultRate}
}

// computeAmount applies the rate to a purchase, rounded half-up to
// cents.
func computeAmount(rate ResolvedRate, purchaseAmount float64) float64 {
	if rate.Type == models.CommissionTypeFixed {
		return utils.RoundMoney(rate.Rate)
	}
	return utils.RoundMoney(purchaseAmount * rate.Rate)
}

// AccrueRequest platform purchase webhook payload.
type AccrueRequest struct {
	UserID         int64   `json:"user_id" binding:"required"`
	TransactionID  string  `json:"transaction_id" binding:"required"`
	PurchaseAmount float64 `json:"purchase_amount" binding:"required,gt=0"`
	SourceType     string  `json:"source_type"`
}

// AccrueOnPurchase creates a held commission for the purchase and
// credits the affiliate's pending balance. Replays of the same
// transaction id return the existing commission.
func (s *CommissionService) AccrueOnPurchase(ctx context.Context, req *AccrueRequest) (*models.Commission, error) {
	if existing, err := s.commissionRepo.GetByTransactionID(ctx, req.TransactionID); err == nil {
		return existing, nil
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	referral, err := s.referralRepo.GetActiveByUserID(ctx, req.UserID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			// Not a referred user. The purchase webhook fires for every
			// platform purchase, so this is the common case, not an error.
			return nil, nil
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	affiliate, err := s.affiliateRepo.GetByIDWithTier(ctx, referral.AffiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if affiliate.Status != models.AffiliateStatusApproved {
		logger.Info("purchase skipped, affiliate not approved",
			logger.AffiliateID(affiliate.ID),
			logger.ReferralID(referral.ID),
		)
		return nil, nil
	}
	if affiliate.RewardType != models.RewardTypeCommission {
		// Credits-plan affiliates earn store credits, not commission.
		return nil, nil
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = models.CommissionSourcePurchase
	}

	rate := s.resolveRate(affiliate)
	amount := computeAmount(rate, req.PurchaseAmount)
	now := time.Now()

	commission := &models.Commission{
		AffiliateID:      affiliate.ID,
		ReferralID:       referral.ID,
		TransactionID:    req.TransactionID,
		SourceType:       sourceType,
		PurchaseAmount:   req.PurchaseAmount,
		CommissionType:   rate.Type,
		CommissionRate:   rate.Rate,
		CommissionAmount: amount,
		Status:           models.CommissionStatusPending,
		HoldUntil:        now.Add(s.cfg.HoldPeriod()),
	}

	firstPurchase := referral.FirstPurchaseAt == nil

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.commissionRepo.WithTx(tx).Create(ctx, commission); err != nil {
			return err
		}
		if err := s.ledger.WithTx(tx).AccrueEarnings(ctx, affiliate.ID, amount); err != nil {
			return err
		}

		referralUpdates := map[string]interface{}{
			"total_purchases": gorm.Expr("total_purchases + 1"),
		}
		if firstPurchase {
			referralUpdates["first_purchase_at"] = now
			referralUpdates["first_purchase_amount"] = req.PurchaseAmount
		}
		if err := tx.Model(&models.Referral{}).Where("id = ?", referral.ID).Updates(referralUpdates).Error; err != nil {
			return err
		}

		if firstPurchase {
			// First purchase converts the referral. Best effort on the
			// status flip: a concurrent webhook may already have done it.
			_ = s.referralRepo.WithTx(tx).UpdateStatusFrom(ctx, referral.ID,
				models.ReferralStatusSignedUp, models.ReferralStatusConverted,
				map[string]interface{}{"converted_at": now})

			// The conversion counter commits or rolls back with the
			// commission and the referral flip.
			if err := s.affiliateRepo.WithTx(tx).IncrementConversions(ctx, affiliate.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a replay race; return the winner's row.
			if existing, lookupErr := s.commissionRepo.GetByTransactionID(ctx, req.TransactionID); lookupErr == nil {
				return existing, nil
			}
			return nil, errors.ErrDuplicateTransaction
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordCommission(models.CommissionStatusPending)
	}

	logger.Info("commission accrued",
		logger.CommissionID(commission.ID),
		logger.AffiliateID(affiliate.ID),
		logger.ReferralID(referral.ID),
	)

	s.notifyBestEffort(ctx, affiliate, notify.TemplateCommissionEarned, map[string]interface{}{
		"amount":         utils.FormatMoney(amount),
		"transaction_id": req.TransactionID,
	})

	return commission, nil
}

// CancelRequest cancels a commission after a refund.
type CancelRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Reason        string `json:"reason"`
}

// Cancel reverses a pending or approved commission. Paid commissions
// stay earned; a refund after the payout has settled does not claw
// back.
func (s *CommissionService) Cancel(ctx context.Context, req *CancelRequest) error {
	commission, err := s.commissionRepo.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	reason := req.Reason
	if reason == "" {
		reason = "purchase refunded"
	}
	return s.cancel(ctx, commission, reason)
}

// CancelByID reverses a pending or approved commission from the admin
// console.
func (s *CommissionService) CancelByID(ctx context.Context, id int64, reason string) error {
	commission, err := s.commissionRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if reason == "" {
		reason = "cancelled by admin"
	}
	return s.cancel(ctx, commission, reason)
}

func (s *CommissionService) cancel(ctx context.Context, commission *models.Commission, reason string) error {
	if commission.Status != models.CommissionStatusPending && commission.Status != models.CommissionStatusApproved {
		return errors.ErrCommissionStatusError.WithMessage("only pending or approved commissions can be cancelled")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if commission.PayoutID != nil {
			if err := s.detachFromPayout(ctx, tx, commission); err != nil {
				return err
			}
		}
		if err := s.commissionRepo.WithTx(tx).UpdateStatusFrom(ctx, commission.ID,
			commission.Status, models.CommissionStatusCancelled,
			map[string]interface{}{"cancelled_reason": reason, "payout_id": nil}); err != nil {
			return err
		}
		return s.ledger.WithTx(tx).ReleasePending(ctx, commission.AffiliateID, commission.CommissionAmount)
	})
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionStatusError.WithMessage("commission was already processed")
		}
		if errors.IsAppError(err) {
			return err
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordCommission(models.CommissionStatusCancelled)
	}

	logger.Info("commission cancelled",
		logger.CommissionID(commission.ID),
		logger.AffiliateID(commission.AffiliateID),
	)
	return nil
}

// detachFromPayout pulls a stamped commission out of its payout before
// the cancel. Only a still-pending payout can be reshaped: it shrinks
// by the commission amount, or is cancelled outright when this was its
// last line item. A payout already handed to the gateway blocks the
// cancel.
func (s *CommissionService) detachFromPayout(ctx context.Context, tx *gorm.DB, commission *models.Commission) error {
	payoutRepo := s.payoutRepo.WithTx(tx)

	payout, err := payoutRepo.GetByID(ctx, *commission.PayoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutStatusPending {
		return errors.ErrCommissionStatusError.WithMessage("commission belongs to a payout already in flight")
	}

	remaining := utils.RoundMoney(payout.Amount - commission.CommissionAmount)
	if remaining <= 0 {
		return payoutRepo.MarkCancelled(ctx, payout.ID, "all line items cancelled")
	}
	return payoutRepo.UpdateAmount(ctx, payout.ID, remaining)
}

// Approve flips a pending commission to approved ahead of its hold
// window. The hourly sweep approves the rest.
func (s *CommissionService) Approve(ctx context.Context, id int64) error {
	commission, err := s.commissionRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if commission.Status != models.CommissionStatusPending {
		return errors.ErrCommissionStatusError.WithMessage("only pending commissions can be approved")
	}

	err = s.commissionRepo.UpdateStatusFrom(ctx, commission.ID,
		models.CommissionStatusPending, models.CommissionStatusApproved,
		map[string]interface{}{"approved_at": time.Now()})
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionStatusError.WithMessage("commission was already processed")
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordCommission(models.CommissionStatusApproved)
	}

	logger.Info("commission approved",
		logger.CommissionID(commission.ID),
		logger.AffiliateID(commission.AffiliateID),
	)
	return nil
}

// ApproveHeldCommissions flips every pending commission whose hold has
// elapsed to approved. Run hourly by the scheduler. Returns the number
// approved.
func (s *CommissionService) ApproveHeldCommissions(ctx context.Context) (int, error) {
	due, err := s.commissionRepo.ListPendingHeldBefore(ctx, time.Now())
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	approved := 0
	now := time.Now()
	for _, commission := range due {
		err := s.commissionRepo.UpdateStatusFrom(ctx, commission.ID,
			models.CommissionStatusPending, models.CommissionStatusApproved,
			map[string]interface{}{"approved_at": now})
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				// Cancelled in the meantime; skip.
				continue
			}
			return approved, errors.ErrDatabaseError.WithError(err)
		}
		approved++

		if m := metrics.GetMetrics(); m != nil {
			m.RecordCommission(models.CommissionStatusApproved)
		}
	}

	if approved > 0 {
		logger.Info("held commissions approved", logger.Action("approve_held"))
	}
	return approved, nil
}

// GetByAffiliate lists an affiliate's commissions.
func (s *CommissionService) GetByAffiliate(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Commission, int64, error) {
	return s.commissionRepo.ListByAffiliate(ctx, affiliateID, offset, limit, filters)
}

// GetStats aggregates an affiliate's commission totals.
func (s *CommissionService) GetStats(ctx context.Context, affiliateID int64) (map[string]interface{}, error) {
	return s.commissionRepo.GetStatsByAffiliate(ctx, affiliateID)
}

func (s *CommissionService) notifyBestEffort(ctx context.Context, affiliate *models.Affiliate, template string, params map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, &notify.Message{
		To:       affiliate.Email,
		Name:     affiliate.Name,
		Template: template,
		Params:   params,
	})
	if err != nil {
		logger.Warn("notification failed",
			logger.AffiliateID(affiliate.ID),
			logger.Err(err),
		)
	}
}

// isUniqueViolation matches unique index errors across postgres and
// the sqlite test driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
