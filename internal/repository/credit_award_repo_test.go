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

func setupCreditAwardTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Affiliate{}, &models.StoreCreditAward{})
	require.NoError(t, err)

	return db
}

func newAward(affiliateID, storeID int64) *models.StoreCreditAward {
	now := time.Now()
	return &models.StoreCreditAward{
		AffiliateID:     affiliateID,
		ReferredStoreID: storeID,
		ReferralID:      1,
		CreditsGranted:  100.0,
		QualifiedAt:     now,
		AwardedAt:       now,
		GrantedAt:       &now,
	}
}

func TestCreditAwardRepository_Create(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	award := newAward(1, 7)
	err := repo.Create(ctx, award)
	require.NoError(t, err)
	assert.NotZero(t, award.ID)
}

func TestCreditAwardRepository_DuplicateRejected(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAward(1, 7)))

	// Same affiliate/store pair hits the composite unique index.
	err := repo.Create(ctx, newAward(1, 7))
	assert.Error(t, err)

	// A different store for the same affiliate is fine.
	require.NoError(t, repo.Create(ctx, newAward(1, 8)))
}

func TestCreditAwardRepository_ExistsFor(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	db.Create(newAward(1, 7))

	exists, err := repo.ExistsFor(ctx, 1, 7)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsFor(ctx, 1, 8)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreditAwardRepository_ListStoreIDsFor(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	db.Create(newAward(1, 7))
	db.Create(newAward(1, 9))
	db.Create(newAward(2, 11))

	ids, err := repo.ListStoreIDsFor(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 9}, ids)
}

func TestCreditAwardRepository_SumCreditsByAffiliate(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	db.Create(newAward(1, 7))
	db.Create(newAward(1, 8))

	sum, err := repo.SumCreditsByAffiliate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200.0, sum)

	// A row still waiting on the ledger does not count.
	waiting := newAward(1, 9)
	waiting.GrantedAt = nil
	db.Create(waiting)

	sum, err = repo.SumCreditsByAffiliate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200.0, sum)

	sum, err = repo.SumCreditsByAffiliate(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum)
}

func TestCreditAwardRepository_MarkGranted(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	award := newAward(1, 7)
	award.GrantedAt = nil
	db.Create(award)

	now := time.Now()
	require.NoError(t, repo.MarkGranted(ctx, award.ID, now))

	var found models.StoreCreditAward
	db.First(&found, award.ID)
	require.NotNil(t, found.GrantedAt)

	// Stamping twice must not match.
	err := repo.MarkGranted(ctx, award.ID, now)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCreditAwardRepository_ListUngranted(t *testing.T) {
	db := setupCreditAwardTestDB(t)
	repo := NewCreditAwardRepository(db)
	ctx := context.Background()

	granted := newAward(1, 7)
	db.Create(granted)

	waiting := newAward(1, 8)
	waiting.GrantedAt = nil
	db.Create(waiting)

	other := newAward(2, 9)
	other.GrantedAt = nil
	db.Create(other)

	list, err := repo.ListUngranted(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, len(list))
	assert.Equal(t, waiting.ID, list[0].ID)
}
