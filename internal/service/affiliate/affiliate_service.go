// Package affiliate implements the referral, commission and payout
// engine.
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
	"github.com/shopora/affiliate-backend/internal/common/qrcode"
	"github.com/shopora/affiliate-backend/internal/common/utils"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/notify"
	"github.com/shopora/affiliate-backend/pkg/paygate"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
	codeCacheTTL         = 24 * time.Hour
)

// DirectoryService manages affiliate accounts: applications, review,
// referral code resolution, and the payout account lifecycle.
type DirectoryService struct {
	affiliateRepo *repository.AffiliateRepository
	tierRepo      *repository.TierRepository
	db            *gorm.DB
	cfg           *config.ReferralConfig
	paygateCfg    *config.PaygateConfig
	gateway       paygate.Gateway
	notifier      notify.Notifier
}

// NewDirectoryService creates the directory service.
func NewDirectoryService(
	affiliateRepo *repository.AffiliateRepository,
	tierRepo *repository.TierRepository,
	db *gorm.DB,
	cfg *config.ReferralConfig,
	paygateCfg *config.PaygateConfig,
	gateway paygate.Gateway,
	notifier notify.Notifier,
) *DirectoryService {
	return &DirectoryService{
		affiliateRepo: affiliateRepo,
		tierRepo:      tierRepo,
		db:            db,
		cfg:           cfg,
		paygateCfg:    paygateCfg,
		gateway:       gateway,
		notifier:      notifier,
	}
}

// ApplyRequest affiliate application.
type ApplyRequest struct {
	UserID     int64  `json:"user_id"`
	Email      string `json:"email" binding:"required,email"`
	Name       string `json:"name" binding:"required"`
	RewardType string `json:"reward_type"`
}

// Apply registers a pending affiliate with a fresh referral code.
func (s *DirectoryService) Apply(ctx context.Context, req *ApplyRequest) (*models.Affiliate, error) {
	if !utils.ValidateEmail(req.Email) {
		return nil, errors.ErrInvalidParams.WithMessage("invalid email address")
	}

	rewardType := req.RewardType
	if rewardType == "" {
		rewardType = models.RewardTypeCommission
	}
	if rewardType != models.RewardTypeCommission && rewardType != models.RewardTypeCredits {
		return nil, errors.ErrInvalidParams.WithMessage("invalid reward type")
	}

	exists, err := s.affiliateRepo.ExistsByUserID(ctx, req.UserID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if exists {
		return nil, errors.ErrAffiliateExists
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	affiliate := &models.Affiliate{
		UserID:       req.UserID,
		Email:        req.Email,
		Name:         req.Name,
		Status:       models.AffiliateStatusPending,
		RewardType:   rewardType,
		ReferralCode: code,
	}

	if err := s.affiliateRepo.Create(ctx, affiliate); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("affiliate application received",
		logger.AffiliateID(affiliate.ID),
		logger.UserID(req.UserID),
	)

	return affiliate, nil
}

func (s *DirectoryService) generateUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code := utils.GenerateReferralCode(referralCodeLength)
		taken, err := s.affiliateRepo.ExistsByReferralCode(ctx, code)
		if err != nil {
			return "", errors.ErrDatabaseError.WithError(err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.ErrOperationFailed.WithMessage("could not allocate a referral code")
}

// Approve moves a pending application to approved, optionally
// assigning a tier.
func (s *DirectoryService) Approve(ctx context.Context, affiliateID int64, tierID *int64) error {
	if tierID != nil {
		if _, err := s.tierRepo.GetByID(ctx, *tierID); err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrTierNotFound
			}
			return errors.ErrDatabaseError.WithError(err)
		}
	}

	err := s.affiliateRepo.SetApproved(ctx, affiliateID, tierID, time.Now())
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrAffiliateStatusError.WithMessage("only pending applications can be approved")
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("affiliate approved", logger.AffiliateID(affiliateID))

	// Register the connected payout account and tell the affiliate.
	// Both are best effort: the account is retried on the first
	// onboarding-link request, and mail failures never undo a review.
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		logger.Warn("load approved affiliate failed", logger.AffiliateID(affiliateID), logger.Err(err))
		return nil
	}
	if _, accErr := s.ensureGatewayAccount(ctx, affiliate); accErr != nil {
		logger.Warn("gateway account registration failed",
			logger.AffiliateID(affiliateID),
			logger.Err(accErr),
		)
	}
	msg := &notify.Message{
		To:       affiliate.Email,
		Name:     affiliate.Name,
		Template: notify.TemplateApplicationApproved,
		Params: map[string]interface{}{
			"name":          affiliate.Name,
			"referral_code": affiliate.ReferralCode,
			"referral_link": s.ReferralLink(affiliate),
		},
	}
	if nErr := s.notifier.Send(ctx, msg); nErr != nil {
		logger.Warn("approval notification failed", logger.AffiliateID(affiliateID), logger.Err(nErr))
	}
	return nil
}

// Reject declines a pending application.
func (s *DirectoryService) Reject(ctx context.Context, affiliateID int64) error {
	err := s.affiliateRepo.UpdateStatusFrom(ctx, affiliateID, models.AffiliateStatusPending, models.AffiliateStatusRejected, nil)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrAffiliateStatusError.WithMessage("only pending applications can be rejected")
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// Suspend blocks an approved affiliate from earning and payouts.
func (s *DirectoryService) Suspend(ctx context.Context, affiliateID int64) error {
	err := s.affiliateRepo.UpdateStatusFrom(ctx, affiliateID, models.AffiliateStatusApproved, models.AffiliateStatusSuspended, nil)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrAffiliateStatusError.WithMessage("only approved affiliates can be suspended")
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	// Drop the cached code so clicks stop resolving immediately.
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err == nil {
		_ = cache.Delete(ctx, cache.BuildKey(cache.KeyPrefixReferralCode, affiliate.ReferralCode))
	}
	return nil
}

// Reinstate lifts a suspension.
func (s *DirectoryService) Reinstate(ctx context.Context, affiliateID int64) error {
	err := s.affiliateRepo.UpdateStatusFrom(ctx, affiliateID, models.AffiliateStatusSuspended, models.AffiliateStatusApproved, nil)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrAffiliateStatusError.WithMessage("only suspended affiliates can be reinstated")
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// GetByID loads an affiliate.
func (s *DirectoryService) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	affiliate, err := s.affiliateRepo.GetByIDWithTier(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// GetByUserID loads the affiliate account of a platform user.
func (s *DirectoryService) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	affiliate, err := s.affiliateRepo.GetByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// ResolveCode resolves a referral code to its approved affiliate,
// consulting the cache first.
func (s *DirectoryService) ResolveCode(ctx context.Context, code string) (*models.Affiliate, error) {
	cacheKey := cache.BuildKey(cache.KeyPrefixReferralCode, code)

	var cached models.Affiliate
	if err := cache.Get(ctx, cacheKey, &cached); err == nil && cached.ID > 0 {
		if cached.Status != models.AffiliateStatusApproved {
			return nil, errors.ErrInvalidReferralCode
		}
		return &cached, nil
	}

	affiliate, err := s.affiliateRepo.GetByReferralCode(ctx, code)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrInvalidReferralCode
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if affiliate.Status != models.AffiliateStatusApproved {
		return nil, errors.ErrInvalidReferralCode
	}

	// Best effort; a cache miss on the next click is fine.
	_ = cache.Set(ctx, cacheKey, affiliate, codeCacheTTL)

	return affiliate, nil
}

// ReferralLink builds the shareable link for an affiliate.
func (s *DirectoryService) ReferralLink(affiliate *models.Affiliate) string {
	return fmt.Sprintf("%s?ref=%s", s.cfg.LinkBaseURL, affiliate.ReferralCode)
}

// ReferralQR renders the referral link as a PNG data URL.
func (s *DirectoryService) ReferralQR(affiliate *models.Affiliate) (string, error) {
	gen := qrcode.NewGenerator(qrcode.WithSize(300))
	dataURL, err := gen.GenerateDataURL(s.ReferralLink(affiliate))
	if err != nil {
		return "", errors.ErrInternalError.WithError(err)
	}
	return dataURL, nil
}

// ensureGatewayAccount returns the affiliate's connected account id,
// registering one with the gateway first if needed.
func (s *DirectoryService) ensureGatewayAccount(ctx context.Context, affiliate *models.Affiliate) (string, error) {
	if affiliate.GatewayAccountID != nil && *affiliate.GatewayAccountID != "" {
		return *affiliate.GatewayAccountID, nil
	}

	account, err := s.gateway.CreateAccount(ctx, &paygate.CreateAccountRequest{
		Email:       affiliate.Email,
		ExternalRef: fmt.Sprintf("affiliate:%d", affiliate.ID),
	})
	if err != nil {
		return "", errors.ErrGatewayAccountError.WithError(err)
	}

	err = s.affiliateRepo.UpdateFields(ctx, affiliate.ID, map[string]interface{}{
		"gateway_account_id": account.AccountID,
		"payouts_enabled":    account.PayoutsEnabled,
	})
	if err != nil {
		return "", errors.ErrDatabaseError.WithError(err)
	}
	affiliate.GatewayAccountID = &account.AccountID
	affiliate.PayoutsEnabled = account.PayoutsEnabled
	return account.AccountID, nil
}

// GetOnboardingLink returns a hosted gateway onboarding URL for the
// affiliate, registering the connected account first if needed.
func (s *DirectoryService) GetOnboardingLink(ctx context.Context, affiliateID int64) (*paygate.OnboardingLink, error) {
	affiliate, err := s.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate.Status != models.AffiliateStatusApproved {
		return nil, errors.ErrAffiliateNotApproved
	}

	accountID, err := s.ensureGatewayAccount(ctx, affiliate)
	if err != nil {
		return nil, err
	}

	link, err := s.gateway.GetOnboardingLink(ctx, accountID, &paygate.OnboardingLinkRequest{
		ReturnURL:  s.paygateCfg.ReturnURL,
		RefreshURL: s.paygateCfg.RefreshURL,
	})
	if err != nil {
		return nil, errors.ErrGatewayAccountError.WithError(err)
	}
	return link, nil
}

// RefreshAccountStatus re-reads the connected account from the gateway
// and stores whether payouts are enabled. The gateway is the only
// source of that flag.
func (s *DirectoryService) RefreshAccountStatus(ctx context.Context, affiliateID int64) (*paygate.Account, error) {
	affiliate, err := s.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate.GatewayAccountID == nil || *affiliate.GatewayAccountID == "" {
		return nil, errors.ErrGatewayAccountMissing
	}

	account, err := s.gateway.GetAccount(ctx, *affiliate.GatewayAccountID)
	if err != nil {
		return nil, errors.ErrGatewayAccountError.WithError(err)
	}

	err = s.affiliateRepo.UpdateFields(ctx, affiliateID, map[string]interface{}{
		"payouts_enabled": account.PayoutsEnabled,
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return account, nil
}

// UpdateGatewayAccount attaches an existing gateway account to the
// affiliate. The account is verified with the gateway and the
// payouts-enabled flag is taken from its answer, never from the
// caller.
func (s *DirectoryService) UpdateGatewayAccount(ctx context.Context, affiliateID int64, accountID string) error {
	if accountID == "" {
		return errors.ErrInvalidParams.WithMessage("gateway account id is required")
	}

	account, err := s.gateway.GetAccount(ctx, accountID)
	if err != nil {
		return errors.ErrGatewayAccountError.WithError(err)
	}

	err = s.affiliateRepo.UpdateFields(ctx, affiliateID, map[string]interface{}{
		"gateway_account_id": account.AccountID,
		"payouts_enabled":    account.PayoutsEnabled,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// SetCustomRate installs a per-affiliate commission override.
func (s *DirectoryService) SetCustomRate(ctx context.Context, affiliateID int64, rate float64, rateType string) error {
	if rateType != models.CommissionTypePercentage && rateType != models.CommissionTypeFixed {
		return errors.ErrInvalidParams.WithMessage("invalid commission type")
	}
	if rate < 0 || (rateType == models.CommissionTypePercentage && rate > 1) {
		return errors.ErrInvalidParams.WithMessage("invalid commission rate")
	}
	err := s.affiliateRepo.UpdateFields(ctx, affiliateID, map[string]interface{}{
		"custom_rate":      rate,
		"custom_rate_type": rateType,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// ClearCustomRate removes the override so the tier or default applies
// again.
func (s *DirectoryService) ClearCustomRate(ctx context.Context, affiliateID int64) error {
	err := s.affiliateRepo.UpdateFields(ctx, affiliateID, map[string]interface{}{
		"custom_rate":      nil,
		"custom_rate_type": nil,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// List lists affiliates for the admin console.
func (s *DirectoryService) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	return s.affiliateRepo.List(ctx, offset, limit, filters)
}

// GetPendingList lists applications awaiting review.
func (s *DirectoryService) GetPendingList(ctx context.Context, offset, limit int) ([]*models.Affiliate, int64, error) {
	return s.affiliateRepo.GetPendingList(ctx, offset, limit)
}

// GetTopEarners returns the top approved affiliates by lifetime
// earnings.
func (s *DirectoryService) GetTopEarners(ctx context.Context, limit int) ([]*models.Affiliate, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	affiliates, err := s.affiliateRepo.GetTopEarners(ctx, limit)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliates, nil
}

// TierRequest tier create/update payload.
type TierRequest struct {
	Name            string  `json:"name" binding:"required"`
	CommissionType  string  `json:"commission_type" binding:"required"`
	CommissionRate  float64 `json:"commission_rate"`
	MinPayoutAmount float64 `json:"min_payout_amount"`
}

func validateTierRequest(req *TierRequest) error {
	if req.CommissionType != models.CommissionTypePercentage && req.CommissionType != models.CommissionTypeFixed {
		return errors.ErrInvalidParams.WithMessage("invalid commission type")
	}
	if req.CommissionRate < 0 || (req.CommissionType == models.CommissionTypePercentage && req.CommissionRate > 1) {
		return errors.ErrInvalidParams.WithMessage("invalid commission rate")
	}
	if req.MinPayoutAmount < 0 {
		return errors.ErrInvalidParams.WithMessage("invalid minimum payout amount")
	}
	return nil
}

// CreateTier creates a commission tier.
func (s *DirectoryService) CreateTier(ctx context.Context, req *TierRequest) (*models.AffiliateTier, error) {
	if err := validateTierRequest(req); err != nil {
		return nil, err
	}

	tier := &models.AffiliateTier{
		Name:            req.Name,
		CommissionType:  req.CommissionType,
		CommissionRate:  req.CommissionRate,
		MinPayoutAmount: req.MinPayoutAmount,
	}
	if err := s.tierRepo.Create(ctx, tier); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return tier, nil
}

// UpdateTier updates a commission tier. Existing assignments pick up
// the new rate on the next accrual.
func (s *DirectoryService) UpdateTier(ctx context.Context, id int64, req *TierRequest) (*models.AffiliateTier, error) {
	if err := validateTierRequest(req); err != nil {
		return nil, err
	}

	tier, err := s.tierRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrTierNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	tier.Name = req.Name
	tier.CommissionType = req.CommissionType
	tier.CommissionRate = req.CommissionRate
	tier.MinPayoutAmount = req.MinPayoutAmount
	if err := s.tierRepo.Update(ctx, tier); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return tier, nil
}

// ListTiers lists all commission tiers.
func (s *DirectoryService) ListTiers(ctx context.Context) ([]*models.AffiliateTier, error) {
	tiers, err := s.tierRepo.List(ctx)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return tiers, nil
}

// DeleteTier removes a tier. Affiliates on it fall back to the
// default rate.
func (s *DirectoryService) DeleteTier(ctx context.Context, id int64) error {
	if _, err := s.tierRepo.GetByID(ctx, id); err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrTierNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	if err := s.tierRepo.Delete(ctx, id); err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// Dashboard is the affiliate's summary view.
type Dashboard struct {
	Affiliate          *models.Affiliate      `json:"affiliate"`
	ReferralLink       string                 `json:"referral_link"`
	CommissionStats    map[string]interface{} `json:"commission_stats,omitempty"`
	AvailableForPayout float64                `json:"available_for_payout"`
}

// GetDashboard assembles the affiliate dashboard.
func (s *DirectoryService) GetDashboard(ctx context.Context, userID int64, commissionRepo *repository.CommissionRepository) (*Dashboard, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	dashboard := &Dashboard{
		Affiliate:    affiliate,
		ReferralLink: s.ReferralLink(affiliate),
	}

	if stats, err := commissionRepo.GetStatsByAffiliate(ctx, affiliate.ID); err == nil {
		dashboard.CommissionStats = stats
	}
	if available, err := commissionRepo.SumApprovedUnstamped(ctx, affiliate.ID); err == nil {
		dashboard.AvailableForPayout = available
	}

	return dashboard, nil
}
