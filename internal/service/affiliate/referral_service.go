package affiliate

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/common/config"
	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/common/logger"
	"github.com/shopora/affiliate-backend/internal/common/metrics"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
)

// ReferralService tracks referred visitors from click to signup.
type ReferralService struct {
	referralRepo  *repository.ReferralRepository
	affiliateRepo *repository.AffiliateRepository
	directory     *DirectoryService
	db            *gorm.DB
	cfg           *config.ReferralConfig
}

// NewReferralService creates the referral service.
func NewReferralService(
	referralRepo *repository.ReferralRepository,
	affiliateRepo *repository.AffiliateRepository,
	directory *DirectoryService,
	db *gorm.DB,
	cfg *config.ReferralConfig,
) *ReferralService {
	return &ReferralService{
		referralRepo:  referralRepo,
		affiliateRepo: affiliateRepo,
		directory:     directory,
		db:            db,
		cfg:           cfg,
	}
}

// TrackClickRequest one referral link click.
type TrackClickRequest struct {
	Code        string  `json:"code" binding:"required"`
	Email       *string `json:"email,omitempty"`
	Source      *string `json:"source,omitempty"`
	LandingPage *string `json:"landing_page,omitempty"`
}

// TrackClick records a click and opens the attribution window.
func (s *ReferralService) TrackClick(ctx context.Context, req *TrackClickRequest) (*models.Referral, error) {
	affiliate, err := s.directory.ResolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	referral := &models.Referral{
		AffiliateID:     affiliate.ID,
		ReferredEmail:   req.Email,
		Status:          models.ReferralStatusClicked,
		Source:          req.Source,
		LandingPage:     req.LandingPage,
		CookieSetAt:     now,
		CookieExpiresAt: now.Add(s.cfg.CookieWindow()),
	}

	if err := s.referralRepo.Create(ctx, referral); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	// Counter is display-only, so a lost increment is acceptable.
	if err := s.affiliateRepo.IncrementReferrals(ctx, affiliate.ID); err != nil {
		logger.Warn("referral counter increment failed",
			logger.AffiliateID(affiliate.ID),
			logger.Err(err),
		)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordReferral("click")
	}

	return referral, nil
}

// RecordSignupRequest platform signup webhook payload. Code carries
// the referral code from the signup form or URL, when the platform saw
// one.
type RecordSignupRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"required,email"`
	Code   string `json:"code,omitempty"`
}

// RecordSignup binds a new platform user to the click that brought
// them, or directly to the affiliate whose code they signed up with.
// An email-matched click wins over the code. Organic signups — no
// click, no code, or a code that does not resolve — return nil without
// error; the platform webhook must never fail on them. Replays are
// idempotent: a user already bound keeps their original referral.
func (s *ReferralService) RecordSignup(ctx context.Context, req *RecordSignupRequest) (*models.Referral, error) {
	// A user has at most one active referral for life.
	if existing, err := s.referralRepo.GetActiveByUserID(ctx, req.UserID); err == nil {
		return existing, nil
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	now := time.Now()
	clicked, err := s.referralRepo.GetClickedByEmail(ctx, req.Email, now)
	if err != nil {
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		// No attributable click; fall back to the signup code.
		return s.recordSignupByCode(ctx, req, now)
	}

	err = s.referralRepo.UpdateStatusFrom(ctx, clicked.ID, models.ReferralStatusClicked, models.ReferralStatusSignedUp, map[string]interface{}{
		"referred_user_id": req.UserID,
		"signed_up_at":     now,
	})
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			// Lost a race with a concurrent signup webhook.
			if existing, lookupErr := s.referralRepo.GetActiveByUserID(ctx, req.UserID); lookupErr == nil {
				return existing, nil
			}
			return nil, nil
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordReferral("signup")
	}

	logger.Info("referral signup recorded",
		logger.ReferralID(clicked.ID),
		logger.AffiliateID(clicked.AffiliateID),
		logger.UserID(req.UserID),
	)

	return s.referralRepo.GetByID(ctx, clicked.ID)
}

// recordSignupByCode creates a signed_up referral straight from the
// code on the signup, with no prior click.
func (s *ReferralService) recordSignupByCode(ctx context.Context, req *RecordSignupRequest, now time.Time) (*models.Referral, error) {
	if req.Code == "" {
		return nil, nil
	}

	affiliate, err := s.directory.ResolveCode(ctx, req.Code)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidReferralCode) {
			// A stale or mistyped code never fails the signup.
			return nil, nil
		}
		return nil, err
	}

	userID := req.UserID
	email := req.Email
	signedUpAt := now
	referral := &models.Referral{
		AffiliateID:     affiliate.ID,
		ReferredUserID:  &userID,
		ReferredEmail:   &email,
		Status:          models.ReferralStatusSignedUp,
		CookieSetAt:     now,
		CookieExpiresAt: now.Add(s.cfg.CookieWindow()),
		SignedUpAt:      &signedUpAt,
	}

	if err := s.referralRepo.Create(ctx, referral); err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent signup webhook.
			if existing, lookupErr := s.referralRepo.GetActiveByUserID(ctx, req.UserID); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	// Counter is display-only, so a lost increment is acceptable.
	if err := s.affiliateRepo.IncrementReferrals(ctx, affiliate.ID); err != nil {
		logger.Warn("referral counter increment failed",
			logger.AffiliateID(affiliate.ID),
			logger.Err(err),
		)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.RecordReferral("signup")
	}

	logger.Info("referral signup recorded from code",
		logger.ReferralID(referral.ID),
		logger.AffiliateID(affiliate.ID),
		logger.UserID(req.UserID),
	)

	return referral, nil
}

// AttachStore links the referred user's store to their referral once
// the platform reports it.
func (s *ReferralService) AttachStore(ctx context.Context, userID, storeID int64) error {
	referral, err := s.referralRepo.GetActiveByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrReferralNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if referral.ReferredStoreID != nil {
		// First store wins; later stores do not re-attribute.
		return nil
	}

	err = s.referralRepo.UpdateFields(ctx, referral.ID, map[string]interface{}{
		"referred_store_id": storeID,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// GetByAffiliate lists an affiliate's referrals.
func (s *ReferralService) GetByAffiliate(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Referral, int64, error) {
	return s.referralRepo.ListByAffiliate(ctx, affiliateID, offset, limit, filters)
}
