package affiliate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopora/affiliate-backend/internal/common/cache"
	"github.com/shopora/affiliate-backend/internal/common/config"
	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/notify"
	"github.com/shopora/affiliate-backend/pkg/paygate"
)

func setupReferralTest(t *testing.T) (*ReferralService, *DirectoryService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Affiliate{}, &models.AffiliateTier{}, &models.Referral{}))

	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := &config.ReferralConfig{
		CookieWindowDays: 30,
		LinkBaseURL:      "https://shopora.io/join",
	}
	affiliateRepo := repository.NewAffiliateRepository(db)
	directory := NewDirectoryService(affiliateRepo, repository.NewTierRepository(db), db, cfg,
		&config.PaygateConfig{}, paygate.NewMockGateway(), notify.NewMockNotifier())
	svc := NewReferralService(repository.NewReferralRepository(db), affiliateRepo, directory, db, cfg)
	return svc, directory, db
}

func approvedAffiliate(t *testing.T, directory *DirectoryService, userID int64) *models.Affiliate {
	t.Helper()
	ctx := context.Background()

	applied, err := directory.Apply(ctx, &ApplyRequest{
		UserID: userID,
		Email:  "affiliate@example.com",
		Name:   "Affiliate",
	})
	require.NoError(t, err)
	require.NoError(t, directory.Approve(ctx, applied.ID, nil))

	approved, err := directory.GetByID(ctx, applied.ID)
	require.NoError(t, err)
	return approved
}

func TestReferralService_TrackClick(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	email := "visitor@example.com"
	referral, err := svc.TrackClick(ctx, &TrackClickRequest{
		Code:  affiliate.ReferralCode,
		Email: &email,
	})
	require.NoError(t, err)

	assert.Equal(t, affiliate.ID, referral.AffiliateID)
	assert.Equal(t, models.ReferralStatusClicked, referral.Status)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), referral.CookieExpiresAt, time.Minute)

	got, err := directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalReferrals)
}

func TestReferralService_TrackClick_InvalidCode(t *testing.T) {
	svc, _, _ := setupReferralTest(t)

	_, err := svc.TrackClick(context.Background(), &TrackClickRequest{Code: "NOSUCH99"})
	assert.ErrorIs(t, err, errors.ErrInvalidReferralCode)
}

func TestReferralService_RecordSignup(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	email := "visitor@example.com"
	clicked, err := svc.TrackClick(ctx, &TrackClickRequest{Code: affiliate.ReferralCode, Email: &email})
	require.NoError(t, err)

	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)

	assert.Equal(t, clicked.ID, referral.ID)
	assert.Equal(t, models.ReferralStatusSignedUp, referral.Status)
	require.NotNil(t, referral.ReferredUserID)
	assert.Equal(t, int64(200), *referral.ReferredUserID)
	assert.NotNil(t, referral.SignedUpAt)
}

func TestReferralService_RecordSignup_Idempotent(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	email := "visitor@example.com"
	_, err := svc.TrackClick(ctx, &TrackClickRequest{Code: affiliate.ReferralCode, Email: &email})
	require.NoError(t, err)

	first, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)

	// A replayed webhook must return the same referral, not bind a new
	// one.
	replay, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
}

func TestReferralService_RecordSignup_Organic(t *testing.T) {
	svc, _, _ := setupReferralTest(t)

	// No click, no code: the signup is organic and the webhook must
	// succeed with nothing to attribute.
	referral, err := svc.RecordSignup(context.Background(), &RecordSignupRequest{
		UserID: 200,
		Email:  "organic@example.com",
	})
	require.NoError(t, err)
	assert.Nil(t, referral)
}

func TestReferralService_RecordSignup_ExpiredCookie(t *testing.T) {
	svc, directory, db := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	email := "visitor@example.com"
	clicked, err := svc.TrackClick(ctx, &TrackClickRequest{Code: affiliate.ReferralCode, Email: &email})
	require.NoError(t, err)

	// Age the cookie past the window.
	require.NoError(t, db.Model(&models.Referral{}).Where("id = ?", clicked.ID).
		Update("cookie_expires_at", time.Now().Add(-time.Hour)).Error)

	// The expired click no longer attributes; the signup lands organic.
	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)
	assert.Nil(t, referral)
}

func TestReferralService_RecordSignup_FromCode(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	// No prior click; the code on the signup form carries attribution.
	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{
		UserID: 200,
		Email:  "visitor@example.com",
		Code:   affiliate.ReferralCode,
	})
	require.NoError(t, err)
	require.NotNil(t, referral)

	assert.Equal(t, affiliate.ID, referral.AffiliateID)
	assert.Equal(t, models.ReferralStatusSignedUp, referral.Status)
	require.NotNil(t, referral.ReferredUserID)
	assert.Equal(t, int64(200), *referral.ReferredUserID)
	assert.NotNil(t, referral.SignedUpAt)

	got, err := directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalReferrals)

	// Replays keep the original binding.
	replay, err := svc.RecordSignup(ctx, &RecordSignupRequest{
		UserID: 200,
		Email:  "visitor@example.com",
		Code:   affiliate.ReferralCode,
	})
	require.NoError(t, err)
	assert.Equal(t, referral.ID, replay.ID)
}

func TestReferralService_RecordSignup_BadCodeIsOrganic(t *testing.T) {
	svc, _, _ := setupReferralTest(t)

	// A mistyped or suspended code must not fail the platform webhook.
	referral, err := svc.RecordSignup(context.Background(), &RecordSignupRequest{
		UserID: 200,
		Email:  "visitor@example.com",
		Code:   "NOSUCH99",
	})
	require.NoError(t, err)
	assert.Nil(t, referral)
}

func TestReferralService_RecordSignup_ClickBeatsCode(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	clickedVia := approvedAffiliate(t, directory, 100)

	other, err := directory.Apply(ctx, &ApplyRequest{UserID: 101, Email: "other@example.com", Name: "Other"})
	require.NoError(t, err)
	require.NoError(t, directory.Approve(ctx, other.ID, nil))

	email := "visitor@example.com"
	clicked, err := svc.TrackClick(ctx, &TrackClickRequest{Code: clickedVia.ReferralCode, Email: &email})
	require.NoError(t, err)

	// The visitor clicked one affiliate's link but typed another's code
	// at signup. The tracked click wins.
	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{
		UserID: 200,
		Email:  email,
		Code:   other.ReferralCode,
	})
	require.NoError(t, err)
	require.NotNil(t, referral)
	assert.Equal(t, clicked.ID, referral.ID)
	assert.Equal(t, clickedVia.ID, referral.AffiliateID)
}

func TestReferralService_RecordSignup_FreshestClickWins(t *testing.T) {
	svc, directory, db := setupReferralTest(t)
	ctx := context.Background()

	first := approvedAffiliate(t, directory, 100)

	second, err := directory.Apply(ctx, &ApplyRequest{UserID: 101, Email: "other@example.com", Name: "Other"})
	require.NoError(t, err)
	require.NoError(t, directory.Approve(ctx, second.ID, nil))

	email := "visitor@example.com"
	oldClick, err := svc.TrackClick(ctx, &TrackClickRequest{Code: first.ReferralCode, Email: &email})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Referral{}).Where("id = ?", oldClick.ID).
		Update("cookie_set_at", time.Now().Add(-48*time.Hour)).Error)

	newClick, err := svc.TrackClick(ctx, &TrackClickRequest{Code: second.ReferralCode, Email: &email})
	require.NoError(t, err)

	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)
	assert.Equal(t, newClick.ID, referral.ID)
	assert.Equal(t, second.ID, referral.AffiliateID)
}

func TestReferralService_AttachStore(t *testing.T) {
	svc, directory, _ := setupReferralTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, directory, 100)

	email := "visitor@example.com"
	_, err := svc.TrackClick(ctx, &TrackClickRequest{Code: affiliate.ReferralCode, Email: &email})
	require.NoError(t, err)
	referral, err := svc.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)

	require.NoError(t, svc.AttachStore(ctx, 200, 5000))

	// A second store must not re-attribute.
	require.NoError(t, svc.AttachStore(ctx, 200, 6000))

	got, _, err := svc.GetByAffiliate(ctx, referral.AffiliateID, 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ReferredStoreID)
	assert.Equal(t, int64(5000), *got[0].ReferredStoreID)
}

func TestReferralService_AttachStore_NoReferral(t *testing.T) {
	svc, _, _ := setupReferralTest(t)

	err := svc.AttachStore(context.Background(), 999, 5000)
	assert.ErrorIs(t, err, errors.ErrReferralNotFound)
}
