package affiliate

import (
	"context"
	stderrors "errors"
	"fmt"
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
	"github.com/shopora/affiliate-backend/pkg/paygate"
)

// PayoutService moves approved commission out through the payment
// gateway.
type PayoutService struct {
	payoutRepo     *repository.PayoutRepository
	commissionRepo *repository.CommissionRepository
	affiliateRepo  *repository.AffiliateRepository
	ledger         *repository.Ledger
	db             *gorm.DB
	cfg            *config.PayoutConfig
	gateway        paygate.Gateway
	gatewayTimeout time.Duration
	notifier       notify.Notifier
}

// NewPayoutService creates the payout service.
func NewPayoutService(
	payoutRepo *repository.PayoutRepository,
	commissionRepo *repository.CommissionRepository,
	affiliateRepo *repository.AffiliateRepository,
	ledger *repository.Ledger,
	db *gorm.DB,
	cfg *config.PayoutConfig,
	gateway paygate.Gateway,
	gatewayTimeout time.Duration,
	notifier notify.Notifier,
) *PayoutService {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 30 * time.Second
	}
	return &PayoutService{
		payoutRepo:     payoutRepo,
		commissionRepo: commissionRepo,
		affiliateRepo:  affiliateRepo,
		ledger:         ledger,
		db:             db,
		cfg:            cfg,
		gateway:        gateway,
		gatewayTimeout: gatewayTimeout,
		notifier:       notifier,
	}
}

// Request opens a payout for the requested amount. Whole approved
// commissions are claimed oldest first until adding another would
// exceed the amount; the claimed sum becomes the payout amount, frozen
// at request time by stamping the payout id onto the selected
// commissions.
func (s *PayoutService) Request(ctx context.Context, affiliateID, requestedBy int64, amount float64) (*models.Payout, error) {
	affiliate, err := s.affiliateRepo.GetByIDWithTier(ctx, affiliateID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if affiliate.Status != models.AffiliateStatusApproved {
		return nil, errors.ErrAffiliateNotApproved
	}
	if affiliate.GatewayAccountID == nil || *affiliate.GatewayAccountID == "" {
		return nil, errors.ErrGatewayAccountMissing
	}
	if !affiliate.PayoutsEnabled {
		return nil, errors.ErrPayoutsDisabled
	}

	amount = utils.RoundMoney(amount)
	if amount <= 0 {
		return nil, errors.ErrPayoutAmountInvalid
	}
	minAmount := s.cfg.MinAmount
	if affiliate.Tier != nil && affiliate.Tier.MinPayoutAmount > 0 {
		minAmount = affiliate.Tier.MinPayoutAmount
	}
	if amount < minAmount {
		return nil, errors.ErrPayoutBelowMinimum.WithMessage(
			fmt.Sprintf("minimum payout is %s", utils.FormatMoney(minAmount)))
	}
	if amount > affiliate.PendingBalance {
		return nil, errors.ErrBalanceInsufficient
	}

	open, err := s.payoutRepo.HasOpenPayout(ctx, affiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if open {
		return nil, errors.ErrPayoutStatusError.WithMessage("a payout is already in flight")
	}

	candidates, err := s.commissionRepo.ListApprovedUnstamped(ctx, affiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if len(candidates) == 0 {
		return nil, errors.ErrNothingToPayOut
	}

	var ids []int64
	var claimed float64
	for _, commission := range candidates {
		next := utils.RoundMoney(claimed + commission.CommissionAmount)
		if next > amount {
			break
		}
		ids = append(ids, commission.ID)
		claimed = next
	}
	if len(ids) == 0 {
		return nil, errors.ErrPayoutAmountInvalid.WithMessage("amount does not cover the oldest approved commission")
	}

	payout := &models.Payout{
		PayoutNo:         utils.GeneratePayoutNo("PO"),
		AffiliateID:      affiliateID,
		Amount:           claimed,
		Status:           models.PayoutStatusPending,
		GatewayAccountID: *affiliate.GatewayAccountID,
		RequestedBy:      requestedBy,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.WithTx(tx).Create(ctx, payout); err != nil {
			return err
		}
		stamped, err := s.commissionRepo.WithTx(tx).StampPayoutByIDs(ctx, ids, payout.ID)
		if err != nil {
			return err
		}
		if stamped != int64(len(ids)) {
			// Another payout raced us to the commissions.
			return errors.ErrNothingToPayOut
		}
		return nil
	})
	if err != nil {
		if errors.IsAppError(err) {
			return nil, err
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordPayout(models.PayoutStatusPending)
	}

	logger.Info("payout requested",
		logger.PayoutNo(payout.PayoutNo),
		logger.AffiliateID(affiliateID),
	)
	return payout, nil
}

// Process claims a pending payout and drives the gateway transfer to a
// terminal state. The pending->processing flip is conditional, so of
// any number of concurrent processors exactly one reaches the gateway.
func (s *PayoutService) Process(ctx context.Context, payoutID, adminID int64) (*models.Payout, error) {
	if err := s.payoutRepo.MarkProcessing(ctx, payoutID, adminID); err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrPayoutAlreadyClaimed
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	resp, gwErr := s.gateway.CreateTransfer(gwCtx, &paygate.TransferRequest{
		AccountID:      payout.GatewayAccountID,
		Amount:         payout.Amount,
		Currency:       "USD",
		Reference:      fmt.Sprintf("affiliate payout %s", payout.PayoutNo),
		IdempotencyKey: payout.PayoutNo,
	})

	switch {
	case gwErr != nil:
		// A timeout is a failure: the idempotency key makes a later
		// retry safe even if the transfer landed.
		reason := gwErr.Error()
		if stderrors.Is(gwErr, paygate.ErrTimeout) {
			reason = "gateway timed out"
		}
		if err := s.fail(ctx, payout, reason); err != nil {
			return nil, err
		}
		if m := metrics.GetMetrics(); m != nil {
			m.RecordGatewayTransfer("error")
		}
		return s.payoutRepo.GetByID(ctx, payoutID)

	case resp.Status != paygate.TransferStatusSucceeded:
		reason := resp.FailureMsg
		if reason == "" {
			reason = "gateway declined the transfer"
		}
		if err := s.fail(ctx, payout, reason); err != nil {
			return nil, err
		}
		if m := metrics.GetMetrics(); m != nil {
			m.RecordGatewayTransfer("declined")
		}
		return s.payoutRepo.GetByID(ctx, payoutID)
	}

	// Success: settle the ledger and mark the lines paid atomically.
	if err := s.settle(ctx, payout, resp.TransferID); err != nil {
		// Money left the gateway but the books did not settle. Log loud
		// and leave the payout in processing for the recovery sweep.
		logger.Error("payout settlement failed after gateway success",
			logger.PayoutNo(payout.PayoutNo),
			logger.Err(err),
		)
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordGatewayTransfer("succeeded")
	}

	return s.payoutRepo.GetByID(ctx, payoutID)
}

// settle marks the payout completed, flips its line items to paid and
// settles the ledger. Called once the gateway confirms the transfer.
func (s *PayoutService) settle(ctx context.Context, payout *models.Payout, transferID string) error {
	now := time.Now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.WithTx(tx).MarkCompleted(ctx, payout.ID, transferID); err != nil {
			return err
		}
		if err := s.commissionRepo.WithTx(tx).MarkPaidByPayoutID(ctx, payout.ID, now); err != nil {
			return err
		}
		return s.ledger.WithTx(tx).SettlePayout(ctx, payout.AffiliateID, payout.Amount)
	})
	if err != nil {
		return err
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordPayout(models.PayoutStatusCompleted)
	}

	logger.Info("payout completed",
		logger.PayoutNo(payout.PayoutNo),
		logger.AffiliateID(payout.AffiliateID),
	)

	s.notifyPayout(ctx, payout.AffiliateID, notify.TemplatePayoutCompleted, map[string]interface{}{
		"payout_no": payout.PayoutNo,
		"amount":    utils.FormatMoney(payout.Amount),
	})
	return nil
}

// fail marks the payout failed and returns its commissions to the
// payable pool. Earnings were never settled, so the ledger is
// untouched.
func (s *PayoutService) fail(ctx context.Context, payout *models.Payout, reason string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.WithTx(tx).MarkFailed(ctx, payout.ID, reason); err != nil {
			return err
		}
		return s.commissionRepo.WithTx(tx).ReleaseByPayoutID(ctx, payout.ID)
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordPayout(models.PayoutStatusFailed)
	}

	logger.Warn("payout failed",
		logger.PayoutNo(payout.PayoutNo),
		logger.AffiliateID(payout.AffiliateID),
	)

	s.notifyPayout(ctx, payout.AffiliateID, notify.TemplatePayoutFailed, map[string]interface{}{
		"payout_no": payout.PayoutNo,
		"reason":    reason,
	})
	return nil
}

// Cancel withdraws a payout nobody has started processing.
func (s *PayoutService) Cancel(ctx context.Context, payoutID, affiliateID int64) error {
	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrPayoutNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	if payout.AffiliateID != affiliateID {
		return errors.ErrPermissionDenied
	}

	return s.cancel(ctx, payoutID, "cancelled by affiliate")
}

// CancelAsAdmin cancels a pending payout from the admin console.
func (s *PayoutService) CancelAsAdmin(ctx context.Context, payoutID int64) error {
	if _, err := s.GetByID(ctx, payoutID); err != nil {
		return err
	}
	return s.cancel(ctx, payoutID, "cancelled by admin")
}

func (s *PayoutService) cancel(ctx context.Context, payoutID int64, reason string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.WithTx(tx).MarkCancelled(ctx, payoutID, reason); err != nil {
			return err
		}
		return s.commissionRepo.WithTx(tx).ReleaseByPayoutID(ctx, payoutID)
	})
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrPayoutStatusError.WithMessage("only pending payouts can be cancelled")
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordPayout(models.PayoutStatusCancelled)
	}
	return nil
}

// RecoverStaleProcessing resolves payouts stuck in processing beyond
// the configured window. The gateway is asked for the transfer under
// the payout's idempotency key before anything is written: a transfer
// that landed settles the payout as completed, a transfer the gateway
// never saw (or reported failed) fails it and releases its
// commissions, and a lookup error leaves the payout for the next
// sweep. Run hourly by the scheduler. Returns the number resolved.
func (s *PayoutService) RecoverStaleProcessing(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.StaleProcessingMins) * time.Minute)
	stale, err := s.payoutRepo.GetStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	recovered := 0
	for _, payout := range stale {
		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		resp, gwErr := s.gateway.GetTransfer(gwCtx, payout.PayoutNo)
		cancel()

		switch {
		case stderrors.Is(gwErr, paygate.ErrTransferNotFound):
			if err := s.fail(ctx, payout, "processing timed out; transfer never reached the gateway"); err != nil {
				logger.Error("stale payout recovery failed",
					logger.PayoutNo(payout.PayoutNo), logger.Err(err))
				continue
			}

		case gwErr != nil:
			// Cannot tell whether money moved; try again next sweep.
			logger.Warn("stale payout transfer lookup failed",
				logger.PayoutNo(payout.PayoutNo), logger.Err(gwErr))
			continue

		case resp.Status == paygate.TransferStatusSucceeded:
			if err := s.settle(ctx, payout, resp.TransferID); err != nil {
				logger.Error("stale payout settlement failed",
					logger.PayoutNo(payout.PayoutNo), logger.Err(err))
				continue
			}

		default:
			reason := resp.FailureMsg
			if reason == "" {
				reason = "gateway reported the transfer failed"
			}
			if err := s.fail(ctx, payout, reason); err != nil {
				logger.Error("stale payout recovery failed",
					logger.PayoutNo(payout.PayoutNo), logger.Err(err))
				continue
			}
		}
		recovered++
	}
	return recovered, nil
}

// GetByAffiliate lists an affiliate's payouts.
func (s *PayoutService) GetByAffiliate(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.Payout, int64, error) {
	return s.payoutRepo.ListByAffiliate(ctx, affiliateID, offset, limit)
}

// GetByID loads a payout.
func (s *PayoutService) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	payout, err := s.payoutRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrPayoutNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return payout, nil
}

// List lists payouts for the admin console.
func (s *PayoutService) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	return s.payoutRepo.List(ctx, offset, limit, filters)
}

// GetLineItems lists the commissions a payout covers.
func (s *PayoutService) GetLineItems(ctx context.Context, payoutID int64) ([]*models.Commission, error) {
	return s.commissionRepo.ListByPayoutID(ctx, payoutID)
}

func (s *PayoutService) notifyPayout(ctx context.Context, affiliateID int64, template string, params map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return
	}
	err = s.notifier.Send(ctx, &notify.Message{
		To:       affiliate.Email,
		Name:     affiliate.Name,
		Template: template,
		Params:   params,
	})
	if err != nil {
		logger.Warn("payout notification failed",
			logger.AffiliateID(affiliateID),
			logger.Err(err),
		)
	}
}
