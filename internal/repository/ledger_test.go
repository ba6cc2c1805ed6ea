package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopora/affiliate-backend/internal/models"
)

func setupLedgerTestDB(t *testing.T) (*gorm.DB, *models.Affiliate) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Affiliate{})
	require.NoError(t, err)

	affiliate := &models.Affiliate{
		UserID:       1,
		Email:        "jane@example.com",
		Name:         "Jane",
		ReferralCode: "JANE2345",
		Status:       models.AffiliateStatusApproved,
	}
	require.NoError(t, db.Create(affiliate).Error)

	return db, affiliate
}

func TestLedger_AccrueEarnings(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 25.50))
	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 10.00))

	earned, pending, paid, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 35.50, earned)
	assert.Equal(t, 35.50, pending)
	assert.Equal(t, 0.0, paid)
}

func TestLedger_AccrueEarnings_UnknownAffiliate(t *testing.T) {
	db, _ := setupLedgerTestDB(t)
	ledger := NewLedger(db)

	err := ledger.AccrueEarnings(context.Background(), 999, 10.00)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestLedger_SettlePayout(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 100.00))
	require.NoError(t, ledger.SettlePayout(ctx, affiliate.ID, 60.00))

	earned, pending, paid, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.00, earned)
	assert.Equal(t, 40.00, pending)
	assert.Equal(t, 60.00, paid)
	// earned == pending + paid still holds
	assert.Equal(t, earned, pending+paid)
}

func TestLedger_SettlePayout_InsufficientBalance(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 50.00))

	err := ledger.SettlePayout(ctx, affiliate.ID, 60.00)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The failed settle must not touch the row.
	earned, pending, paid, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.00, earned)
	assert.Equal(t, 50.00, pending)
	assert.Equal(t, 0.0, paid)
}

func TestLedger_ReleasePending(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 80.00))
	require.NoError(t, ledger.ReleasePending(ctx, affiliate.ID, 30.00))

	earned, pending, paid, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.00, earned)
	assert.Equal(t, 50.00, pending)
	assert.Equal(t, 0.0, paid)
}

func TestLedger_ReleasePending_FloorsAtZero(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 10.00))
	require.NoError(t, ledger.ReleasePending(ctx, affiliate.ID, 25.00))

	earned, pending, _, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, earned)
	assert.Equal(t, 0.0, pending)
}

func TestLedger_ZeroAmountIsNoop(t *testing.T) {
	db, affiliate := setupLedgerTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.AccrueEarnings(ctx, affiliate.ID, 0))
	require.NoError(t, ledger.ReleasePending(ctx, affiliate.ID, 0))

	earned, pending, paid, err := ledger.GetBalances(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, earned)
	assert.Equal(t, 0.0, pending)
	assert.Equal(t, 0.0, paid)
}
