package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopora/affiliate-backend/internal/models"
)

func setupReferralTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Affiliate{}, &models.Referral{})
	require.NoError(t, err)

	return db
}

func newClickedReferral(affiliateID int64, email string) *models.Referral {
	now := time.Now()
	return &models.Referral{
		AffiliateID:     affiliateID,
		ReferredEmail:   &email,
		Status:          models.ReferralStatusClicked,
		CookieSetAt:     now,
		CookieExpiresAt: now.Add(30 * 24 * time.Hour),
	}
}

func TestReferralRepository_Create(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	referral := newClickedReferral(1, "buyer@example.com")
	err := repo.Create(ctx, referral)
	require.NoError(t, err)
	assert.NotZero(t, referral.ID)
}

func TestReferralRepository_GetActiveByUserID(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	userID := int64(42)
	referral := newClickedReferral(1, "buyer@example.com")
	referral.Status = models.ReferralStatusSignedUp
	referral.ReferredUserID = &userID
	db.Create(referral)

	found, err := repo.GetActiveByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, referral.ID, found.ID)

	_, err = repo.GetActiveByUserID(ctx, 999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReferralRepository_GetActiveByUserID_IgnoresClicked(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	userID := int64(42)
	referral := newClickedReferral(1, "buyer@example.com")
	referral.ReferredUserID = &userID
	db.Create(referral)

	_, err := repo.GetActiveByUserID(ctx, userID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReferralRepository_GetClickedByEmail(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()
	now := time.Now()

	older := newClickedReferral(1, "buyer@example.com")
	older.CookieSetAt = now.Add(-48 * time.Hour)
	db.Create(older)

	newer := newClickedReferral(2, "buyer@example.com")
	newer.CookieSetAt = now.Add(-1 * time.Hour)
	db.Create(newer)

	found, err := repo.GetClickedByEmail(ctx, "buyer@example.com", now)
	require.NoError(t, err)
	// Freshest click wins.
	assert.Equal(t, newer.ID, found.ID)
}

func TestReferralRepository_GetClickedByEmail_ExpiredCookie(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()
	now := time.Now()

	expired := newClickedReferral(1, "buyer@example.com")
	expired.CookieSetAt = now.Add(-40 * 24 * time.Hour)
	expired.CookieExpiresAt = now.Add(-10 * 24 * time.Hour)
	db.Create(expired)

	_, err := repo.GetClickedByEmail(ctx, "buyer@example.com", now)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReferralRepository_UpdateStatusFrom(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	referral := newClickedReferral(1, "buyer@example.com")
	db.Create(referral)

	userID := int64(42)
	now := time.Now()
	err := repo.UpdateStatusFrom(ctx, referral.ID, models.ReferralStatusClicked, models.ReferralStatusSignedUp, map[string]interface{}{
		"referred_user_id": userID,
		"signed_up_at":     now,
	})
	require.NoError(t, err)

	var found models.Referral
	db.First(&found, referral.ID)
	assert.Equal(t, models.ReferralStatusSignedUp, found.Status)
	require.NotNil(t, found.ReferredUserID)
	assert.Equal(t, userID, *found.ReferredUserID)

	// Replaying the same transition must not match.
	err = repo.UpdateStatusFrom(ctx, referral.ID, models.ReferralStatusClicked, models.ReferralStatusSignedUp, nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReferralRepository_IncrementPurchases(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	referral := newClickedReferral(1, "buyer@example.com")
	db.Create(referral)

	require.NoError(t, repo.IncrementPurchases(ctx, referral.ID))
	require.NoError(t, repo.IncrementPurchases(ctx, referral.ID))

	var found models.Referral
	db.First(&found, referral.ID)
	assert.Equal(t, 2, found.TotalPurchases)
}

func TestReferralRepository_ListByAffiliate(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	db.Create(newClickedReferral(1, "a@example.com"))
	converted := newClickedReferral(1, "b@example.com")
	converted.Status = models.ReferralStatusConverted
	db.Create(converted)
	db.Create(newClickedReferral(2, "c@example.com"))

	list, total, err := repo.ListByAffiliate(ctx, 1, 0, 10, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, 2, len(list))

	list, total, err = repo.ListByAffiliate(ctx, 1, 0, 10, map[string]interface{}{
		"status": models.ReferralStatusConverted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, converted.ID, list[0].ID)
}

func TestReferralRepository_ListQualifiedWithStore(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	storeID := int64(7)
	qualified := newClickedReferral(1, "a@example.com")
	qualified.Status = models.ReferralStatusQualified
	qualified.ReferredStoreID = &storeID
	db.Create(qualified)

	// Qualified but no store attached.
	noStore := newClickedReferral(1, "b@example.com")
	noStore.Status = models.ReferralStatusQualified
	db.Create(noStore)

	// Store attached but not qualified yet.
	converted := newClickedReferral(1, "c@example.com")
	converted.Status = models.ReferralStatusConverted
	converted.ReferredStoreID = &storeID
	db.Create(converted)

	list, err := repo.ListQualifiedWithStore(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, len(list))
	assert.Equal(t, qualified.ID, list[0].ID)
}

func TestReferralRepository_CountByAffiliateAndStatus(t *testing.T) {
	db := setupReferralTestDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	db.Create(newClickedReferral(1, "a@example.com"))
	db.Create(newClickedReferral(1, "b@example.com"))
	signed := newClickedReferral(1, "c@example.com")
	signed.Status = models.ReferralStatusSignedUp
	db.Create(signed)

	count, err := repo.CountByAffiliateAndStatus(ctx, 1, models.ReferralStatusClicked)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
