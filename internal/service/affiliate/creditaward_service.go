package affiliate

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/common/cache"
	"github.com/shopora/affiliate-backend/internal/common/config"
	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/common/logger"
	"github.com/shopora/affiliate-backend/internal/common/metrics"
	"github.com/shopora/affiliate-backend/internal/common/utils"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/credits"
	"github.com/shopora/affiliate-backend/pkg/notify"
)

// CreditAwardService grants one-time store credits to affiliates on the
// credits reward plan once a referred store qualifies.
type CreditAwardService struct {
	awardRepo     *repository.CreditAwardRepository
	referralRepo  *repository.ReferralRepository
	affiliateRepo *repository.AffiliateRepository
	storeRepo     *repository.StoreRepository
	db            *gorm.DB
	cfg           *config.CreditAwardConfig
	creditLedger  credits.Ledger
	notifier      notify.Notifier
}

// NewCreditAwardService creates the credit award service.
func NewCreditAwardService(
	awardRepo *repository.CreditAwardRepository,
	referralRepo *repository.ReferralRepository,
	affiliateRepo *repository.AffiliateRepository,
	storeRepo *repository.StoreRepository,
	db *gorm.DB,
	cfg *config.CreditAwardConfig,
	creditLedger credits.Ledger,
	notifier notify.Notifier,
) *CreditAwardService {
	return &CreditAwardService{
		awardRepo:     awardRepo,
		referralRepo:  referralRepo,
		affiliateRepo: affiliateRepo,
		storeRepo:     storeRepo,
		db:            db,
		cfg:           cfg,
		creditLedger:  creditLedger,
		notifier:      notifier,
	}
}

const (
	creditSweepLockName = "credit_sweep"
	creditSweepLockTTL  = 10 * time.Minute
)

// ProcessQualifyingStores sweeps every credits-plan affiliate and awards
// credits for referred stores that have been published for the
// qualification period. A redis lock keeps overlapping sweeps (several
// instances, or the scheduler racing a manual trigger) from walking the
// same candidates. Run daily by the scheduler. Returns the number of
// awards granted.
func (s *CreditAwardService) ProcessQualifyingStores(ctx context.Context) (int, error) {
	lockKey := cache.BuildKey(cache.KeyPrefixLock, creditSweepLockName)
	locked, err := cache.SetNX(ctx, lockKey, 1, creditSweepLockTTL)
	if err != nil {
		// Redis trouble must not stop awards; the unique index still
		// arbitrates duplicates.
		logger.Warn("credit sweep lock unavailable", logger.Err(err))
	} else if !locked {
		logger.Info("credit sweep skipped, another run holds the lock")
		return 0, nil
	} else {
		defer func() { _ = cache.Delete(ctx, lockKey) }()
	}

	affiliates, err := s.affiliateRepo.ListApprovedWithCreditsReward(ctx)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	granted := 0
	for _, affiliate := range affiliates {
		n, err := s.processAffiliate(ctx, affiliate)
		if err != nil {
			logger.Error("credit award sweep failed for affiliate",
				logger.AffiliateID(affiliate.ID), logger.Err(err))
			continue
		}
		granted += n
	}
	return granted, nil
}

func (s *CreditAwardService) processAffiliate(ctx context.Context, affiliate *models.Affiliate) (int, error) {
	granted := 0

	// Finish what an earlier sweep started: rows whose ledger grant
	// failed are retried first, under the same idempotency key.
	ungranted, err := s.awardRepo.ListUngranted(ctx, affiliate.ID)
	if err != nil {
		return 0, err
	}
	for _, record := range ungranted {
		if err := s.grant(ctx, affiliate, record); err != nil {
			logger.Error("credit grant retry failed",
				logger.AffiliateID(affiliate.ID),
				logger.StoreID(record.ReferredStoreID),
				logger.Err(err),
			)
			continue
		}
		if referral, rErr := s.referralRepo.GetByID(ctx, record.ReferralID); rErr == nil {
			s.qualifyReferral(ctx, referral, time.Now())
		}
		granted++
	}

	referrals, err := s.referralRepo.ListActiveWithStore(ctx, affiliate.ID)
	if err != nil {
		return granted, err
	}
	if len(referrals) == 0 {
		return granted, nil
	}

	awardedIDs, err := s.awardRepo.ListStoreIDsFor(ctx, affiliate.ID)
	if err != nil {
		return granted, err
	}
	awarded := make(map[int64]bool, len(awardedIDs))
	for _, id := range awardedIDs {
		awarded[id] = true
	}

	byStore := make(map[int64]*models.Referral)
	var candidateIDs []int64
	for _, referral := range referrals {
		storeID := *referral.ReferredStoreID
		if awarded[storeID] {
			continue
		}
		if _, seen := byStore[storeID]; seen {
			continue
		}
		byStore[storeID] = referral
		candidateIDs = append(candidateIDs, storeID)
	}
	if len(candidateIDs) == 0 {
		return granted, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.StoreAgeDays)
	qualifying, err := s.storeRepo.ListQualifying(ctx, candidateIDs, cutoff)
	if err != nil {
		return granted, err
	}

	for _, store := range qualifying {
		referral := byStore[store.ID]
		if err := s.award(ctx, affiliate, referral, store, cutoff); err != nil {
			if stderrors.Is(err, errors.ErrCreditAlreadyAwarded) {
				continue
			}
			logger.Error("credit award failed",
				logger.AffiliateID(affiliate.ID),
				logger.ReferralID(referral.ID),
				logger.Err(err),
			)
			continue
		}
		granted++
	}
	return granted, nil
}

// award reserves the award row, then grants credits on the platform.
// The row goes first so the composite unique index arbitrates
// concurrent sweeps, and it stays in place whatever the ledger answers:
// a failed grant is retried on the next sweep against the same row.
func (s *CreditAwardService) award(ctx context.Context, affiliate *models.Affiliate, referral *models.Referral, store *models.Store, cutoff time.Time) error {
	// Re-check qualification right before reserving; the candidate set
	// was computed earlier in the sweep and may be stale.
	if affiliate.RewardType != models.RewardTypeCredits {
		return errors.ErrStoreNotQualified.WithMessage("affiliate is not on the credits plan")
	}
	if !store.Published || store.PublishedAt == nil || store.PublishedAt.After(cutoff) {
		return errors.ErrStoreNotQualified
	}

	now := time.Now()
	record := &models.StoreCreditAward{
		AffiliateID:     affiliate.ID,
		ReferredStoreID: store.ID,
		ReferralID:      referral.ID,
		CreditsGranted:  s.cfg.CreditsGranted,
		QualifiedAt:     now,
		AwardedAt:       now,
	}
	if err := s.awardRepo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrCreditAlreadyAwarded
		}
		return err
	}

	if err := s.grant(ctx, affiliate, record); err != nil {
		// The row stays: it blocks duplicate awards and marks the grant
		// the next sweep still owes.
		return err
	}

	s.qualifyReferral(ctx, referral, now)
	return nil
}

// grant calls the platform credit ledger for a reserved award row and
// stamps the row on success. The idempotency key is derived from the
// award pair, so retrying a row can never double-credit.
func (s *CreditAwardService) grant(ctx context.Context, affiliate *models.Affiliate, record *models.StoreCreditAward) error {
	_, err := s.creditLedger.GrantCredits(ctx, &credits.GrantRequest{
		UserID:         affiliate.UserID,
		Amount:         record.CreditsGranted,
		Reason:         fmt.Sprintf("referred store %d qualified", record.ReferredStoreID),
		IdempotencyKey: fmt.Sprintf("award:%d:%d", record.AffiliateID, record.ReferredStoreID),
	})
	if err != nil {
		return err
	}

	if err := s.awardRepo.MarkGranted(ctx, record.ID, time.Now()); err != nil &&
		!stderrors.Is(err, gorm.ErrRecordNotFound) {
		// The credits landed; the stamp retries next sweep under the
		// same idempotency key.
		logger.Warn("award grant stamp failed",
			logger.AffiliateID(record.AffiliateID), logger.Err(err))
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordCreditAward()
	}

	logger.Info("store credits awarded",
		logger.AffiliateID(record.AffiliateID),
		logger.StoreID(record.ReferredStoreID),
	)

	storeName := ""
	if store, sErr := s.storeRepo.GetByID(ctx, record.ReferredStoreID); sErr == nil {
		storeName = store.Name
	}
	s.notifyBestEffortAward(ctx, affiliate, map[string]interface{}{
		"credits":    utils.FormatMoney(record.CreditsGranted),
		"store_name": storeName,
	})
	return nil
}

// qualifyReferral flips the referral to qualified; best effort, the
// award row is the source of truth.
func (s *CreditAwardService) qualifyReferral(ctx context.Context, referral *models.Referral, now time.Time) {
	if referral.Status == models.ReferralStatusQualified {
		return
	}
	if err := s.referralRepo.UpdateStatusFrom(ctx, referral.ID,
		referral.Status, models.ReferralStatusQualified,
		map[string]interface{}{"converted_at": gorm.Expr("COALESCE(converted_at, ?)", now)}); err != nil &&
		!stderrors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("referral qualification flip failed",
			logger.ReferralID(referral.ID), logger.Err(err))
	}
}

// GetByAffiliate lists an affiliate's credit awards.
func (s *CreditAwardService) GetByAffiliate(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.StoreCreditAward, int64, error) {
	return s.awardRepo.ListByAffiliate(ctx, affiliateID, offset, limit)
}

// GetTotalCredits sums the credits granted to an affiliate.
func (s *CreditAwardService) GetTotalCredits(ctx context.Context, affiliateID int64) (float64, error) {
	return s.awardRepo.SumCreditsByAffiliate(ctx, affiliateID)
}

func (s *CreditAwardService) notifyBestEffortAward(ctx context.Context, affiliate *models.Affiliate, params map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, &notify.Message{
		To:       affiliate.Email,
		Name:     affiliate.Name,
		Template: notify.TemplateCreditsAwarded,
		Params:   params,
	})
	if err != nil {
		logger.Warn("credit award notification failed",
			logger.AffiliateID(affiliate.ID),
			logger.Err(err),
		)
	}
}
