package affiliate

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/oss"
)

func setupExportTest(t *testing.T) (*ExportService, *oss.MockUploader, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Commission{}, &models.Payout{}))

	uploader := oss.NewMockUploader()
	svc := NewExportService(
		repository.NewCommissionRepository(db),
		repository.NewPayoutRepository(db),
		uploader,
	)
	return svc, uploader, db
}

func parseUploadedCSV(t *testing.T, uploader *oss.MockUploader, objectKey string) [][]string {
	t.Helper()
	data, ok := uploader.Files[objectKey]
	require.True(t, ok, "object %s was not uploaded", objectKey)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportService_ExportCommissions(t *testing.T) {
	svc, uploader, db := setupExportTest(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.Create(&models.Commission{
		AffiliateID:      1,
		ReferralID:       1,
		TransactionID:    "txn_001",
		SourceType:       models.CommissionSourcePurchase,
		PurchaseAmount:   250.00,
		CommissionType:   models.CommissionTypePercentage,
		CommissionRate:   0.10,
		CommissionAmount: 25.00,
		Status:           models.CommissionStatusApproved,
		HoldUntil:        now,
		ApprovedAt:       &now,
	}).Error)
	require.NoError(t, db.Create(&models.Commission{
		AffiliateID:      2, // someone else's; must not leak in
		ReferralID:       2,
		TransactionID:    "txn_002",
		SourceType:       models.CommissionSourcePurchase,
		PurchaseAmount:   100.00,
		CommissionType:   models.CommissionTypePercentage,
		CommissionRate:   0.10,
		CommissionAmount: 10.00,
		Status:           models.CommissionStatusPending,
		HoldUntil:        now,
	}).Error)

	result, err := svc.ExportCommissions(ctx, 1, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rows)
	assert.NotEmpty(t, result.URL)
	assert.True(t, strings.HasPrefix(result.ObjectKey, "statements/commissions/"))

	records := parseUploadedCSV(t, uploader, result.ObjectKey)
	require.Len(t, records, 2) // header + one row
	assert.Equal(t, "transaction_id", records[0][1])
	assert.Equal(t, "txn_001", records[1][1])
	assert.Equal(t, "25.00", records[1][7])
}

func TestExportService_ExportCommissions_Empty(t *testing.T) {
	svc, uploader, _ := setupExportTest(t)

	result, err := svc.ExportCommissions(context.Background(), 42, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Rows)
	records := parseUploadedCSV(t, uploader, result.ObjectKey)
	assert.Len(t, records, 1) // header only
}

func TestExportService_ExportPayouts(t *testing.T) {
	svc, uploader, db := setupExportTest(t)
	ctx := context.Background()

	now := time.Now()
	transferID := "tr_123"
	require.NoError(t, db.Create(&models.Payout{
		PayoutNo:          "PO20260823001",
		AffiliateID:       1,
		Amount:            50.00,
		Status:            models.PayoutStatusCompleted,
		GatewayAccountID:  "acct_123",
		GatewayTransferID: &transferID,
		RequestedBy:       100,
		CompletedAt:       &now,
	}).Error)

	result, err := svc.ExportPayouts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	records := parseUploadedCSV(t, uploader, result.ObjectKey)
	require.Len(t, records, 2)
	assert.Equal(t, "PO20260823001", records[1][0])
	assert.Equal(t, "50.00", records[1][1])
	assert.Equal(t, models.PayoutStatusCompleted, records[1][2])
	assert.Equal(t, "tr_123", records[1][3])
}

func TestExportService_ExportPayoutLineItems(t *testing.T) {
	svc, uploader, db := setupExportTest(t)
	ctx := context.Background()

	payout := &models.Payout{
		PayoutNo:         "PO20260823002",
		AffiliateID:      1,
		Amount:           25.00,
		Status:           models.PayoutStatusCompleted,
		GatewayAccountID: "acct_123",
		RequestedBy:      100,
	}
	require.NoError(t, db.Create(payout).Error)

	now := time.Now()
	require.NoError(t, db.Create(&models.Commission{
		AffiliateID:      1,
		ReferralID:       1,
		TransactionID:    "txn_001",
		SourceType:       models.CommissionSourcePurchase,
		PurchaseAmount:   250.00,
		CommissionType:   models.CommissionTypePercentage,
		CommissionRate:   0.10,
		CommissionAmount: 25.00,
		Status:           models.CommissionStatusPaid,
		HoldUntil:        now,
		PaidAt:           &now,
		PayoutID:         &payout.ID,
	}).Error)

	result, err := svc.ExportPayoutLineItems(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	records := parseUploadedCSV(t, uploader, result.ObjectKey)
	require.Len(t, records, 2)
	assert.Equal(t, "PO20260823002", records[1][0])
	assert.Equal(t, "txn_001", records[1][2])
}

func TestExportService_ExportPayoutLineItems_UnknownPayout(t *testing.T) {
	svc, _, _ := setupExportTest(t)

	_, err := svc.ExportPayoutLineItems(context.Background(), 999)
	require.Error(t, err)
}
