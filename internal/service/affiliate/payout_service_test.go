package affiliate

import (
	"context"
	"fmt"
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

type payoutTestEnv struct {
	svc         *PayoutService
	commissions *CommissionService
	referrals   *ReferralService
	directory   *DirectoryService
	gateway     *paygate.MockGateway
	notifier    *notify.MockNotifier
	db          *gorm.DB
}

func setupPayoutTest(t *testing.T) *payoutTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Affiliate{}, &models.AffiliateTier{},
		&models.Referral{}, &models.Commission{}, &models.Payout{},
	))

	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	referralCfg := &config.ReferralConfig{CookieWindowDays: 30, LinkBaseURL: "https://shopora.io/join"}
	commissionCfg := &config.CommissionConfig{DefaultRate: 0.10, HoldDays: 14}
	payoutCfg := &config.PayoutConfig{MinAmount: 20.00, StaleProcessingMins: 60}

	affiliateRepo := repository.NewAffiliateRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	commissionRepo := repository.NewCommissionRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	ledger := repository.NewLedger(db)
	gateway := paygate.NewMockGateway()
	notifier := notify.NewMockNotifier()
	directory := NewDirectoryService(affiliateRepo, repository.NewTierRepository(db), db, referralCfg,
		&config.PaygateConfig{}, gateway, notifier)

	return &payoutTestEnv{
		svc: NewPayoutService(
			payoutRepo,
			commissionRepo,
			affiliateRepo,
			ledger,
			db,
			payoutCfg,
			gateway,
			time.Second,
			notifier,
		),
		commissions: NewCommissionService(commissionRepo, referralRepo, affiliateRepo, payoutRepo, ledger, db, commissionCfg, notifier),
		referrals:   NewReferralService(referralRepo, affiliateRepo, directory, db, referralCfg),
		directory:   directory,
		gateway:     gateway,
		notifier:    notifier,
		db:          db,
	}
}

// earningAffiliate sets up an approved affiliate with a payouts-enabled
// gateway account and one pending commission per purchase amount.
func (e *payoutTestEnv) earningAffiliate(t *testing.T, purchases ...float64) *models.Affiliate {
	t.Helper()
	ctx := context.Background()

	affiliate := approvedAffiliate(t, e.directory, 100)
	require.NoError(t, e.directory.UpdateGatewayAccount(ctx, affiliate.ID, "acct_123"))

	email := "buyer@example.com"
	_, err := e.referrals.TrackClick(ctx, &TrackClickRequest{Code: affiliate.ReferralCode, Email: &email})
	require.NoError(t, err)
	_, err = e.referrals.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)

	for i, amount := range purchases {
		_, err := e.commissions.AccrueOnPurchase(ctx, &AccrueRequest{
			UserID:         200,
			TransactionID:  fmt.Sprintf("txn_%03d", i),
			PurchaseAmount: amount,
		})
		require.NoError(t, err)
	}

	got, err := e.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	return got
}

// payableAffiliate is earningAffiliate with every hold elapsed and
// approved, so the commissions are ready to pay out.
func (e *payoutTestEnv) payableAffiliate(t *testing.T, purchases ...float64) *models.Affiliate {
	t.Helper()
	ctx := context.Background()

	affiliate := e.earningAffiliate(t, purchases...)

	require.NoError(t, e.db.Model(&models.Commission{}).Where("1 = 1").
		Update("hold_until", time.Now().Add(-time.Hour)).Error)
	_, err := e.commissions.ApproveHeldCommissions(ctx)
	require.NoError(t, err)

	got, err := e.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	return got
}

func TestPayoutService_Request(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 300.00, 200.00) // 30 + 20 commission

	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	assert.Equal(t, 50.00, payout.Amount)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.NotEmpty(t, payout.PayoutNo)

	// Both commissions are stamped with the payout.
	items, err := env.svc.GetLineItems(ctx, payout.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// A second request collides with the open payout.
	_, err = env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.Error(t, err)
}

func TestPayoutService_Request_PartialAmount(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 300.00, 200.00) // 30 + 20 commission

	// Asking for 30 claims only the oldest commission; the 20 stays
	// payable.
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 30.00)
	require.NoError(t, err)
	assert.Equal(t, 30.00, payout.Amount)

	items, err := env.svc.GetLineItems(ctx, payout.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 30.00, items[0].CommissionAmount)

	// Once the first payout is out of the way the rest can be claimed.
	require.NoError(t, env.svc.Cancel(ctx, payout.ID, affiliate.ID))
	rest, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 20.00)
	require.NoError(t, err)
	assert.Equal(t, 20.00, rest.Amount)
}

func TestPayoutService_Request_AmountBelowOldestCommission(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 300.00) // one 30 commission

	// 25 clears the minimum and the balance but cannot cover the oldest
	// whole commission, so nothing can be claimed.
	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 25.00)
	assert.ErrorIs(t, err, errors.ErrPayoutAmountInvalid)
}

func TestPayoutService_Request_BelowMinimum(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 100.00) // 10 commission, minimum is 20

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 10.00)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum payout")
}

func TestPayoutService_Request_TierMinimumWins(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	tier := &models.AffiliateTier{
		Name:            "gold",
		CommissionType:  models.CommissionTypePercentage,
		CommissionRate:  0.10,
		MinPayoutAmount: 60.00,
	}
	require.NoError(t, env.db.Create(tier).Error)

	applied, err := env.directory.Apply(ctx, &ApplyRequest{UserID: 100, Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	require.NoError(t, env.directory.Approve(ctx, applied.ID, &tier.ID))
	require.NoError(t, env.directory.UpdateGatewayAccount(ctx, applied.ID, "acct_123"))

	email := "buyer@example.com"
	_, err = env.referrals.TrackClick(ctx, &TrackClickRequest{Code: applied.ReferralCode, Email: &email})
	require.NoError(t, err)
	_, err = env.referrals.RecordSignup(ctx, &RecordSignupRequest{UserID: 200, Email: email})
	require.NoError(t, err)
	_, err = env.commissions.AccrueOnPurchase(ctx, &AccrueRequest{
		UserID: 200, TransactionID: "txn_001", PurchaseAmount: 500.00,
	})
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Commission{}).Where("1 = 1").
		Update("hold_until", time.Now().Add(-time.Hour)).Error)
	_, err = env.commissions.ApproveHeldCommissions(ctx)
	require.NoError(t, err)

	// 50 clears the platform minimum of 20 but not the tier's 60.
	_, err = env.svc.Request(ctx, applied.ID, applied.UserID, 50.00)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum payout is 60.00")
}

func TestPayoutService_Request_ExceedsBalance(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 400.00) // 40 commission, balance 40

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	assert.ErrorIs(t, err, errors.ErrBalanceInsufficient)

	// The rejected request leaves nothing behind.
	var payouts int64
	require.NoError(t, env.db.Model(&models.Payout{}).Count(&payouts).Error)
	assert.Zero(t, payouts)

	var stamped int64
	require.NoError(t, env.db.Model(&models.Commission{}).
		Where("payout_id IS NOT NULL").Count(&stamped).Error)
	assert.Zero(t, stamped)
}

func TestPayoutService_Request_InvalidAmount(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 0)
	assert.ErrorIs(t, err, errors.ErrPayoutAmountInvalid)

	_, err = env.svc.Request(ctx, affiliate.ID, affiliate.UserID, -10.00)
	assert.ErrorIs(t, err, errors.ErrPayoutAmountInvalid)
}

func TestPayoutService_Request_NothingApproved(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	// The commissions are still on hold: the balance covers the request
	// but nothing is approved yet.
	affiliate := env.earningAffiliate(t, 500.00)

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	assert.ErrorIs(t, err, errors.ErrNothingToPayOut)
}

func TestPayoutService_Request_NoGatewayAccount(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, env.directory, 100)

	// Account registration failed at approval and was never retried.
	require.NoError(t, env.db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).
		Update("gateway_account_id", nil).Error)

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	assert.ErrorIs(t, err, errors.ErrGatewayAccountMissing)
}

func TestPayoutService_Request_PayoutsDisabled(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := approvedAffiliate(t, env.directory, 100)

	// The connected account exists but onboarding never finished.
	env.gateway.Accounts["acct_off"] = &paygate.Account{AccountID: "acct_off"}
	require.NoError(t, env.directory.UpdateGatewayAccount(ctx, affiliate.ID, "acct_off"))

	_, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	assert.ErrorIs(t, err, errors.ErrPayoutsDisabled)
}

func TestPayoutService_Process_Success(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00) // 50 commission
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	processed, err := env.svc.Process(ctx, payout.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, models.PayoutStatusCompleted, processed.Status)
	assert.NotNil(t, processed.GatewayTransferID)
	assert.NotNil(t, processed.CompletedAt)

	// The transfer used the payout number as idempotency key.
	transfer := env.gateway.LastTransfer()
	require.NotNil(t, transfer)
	assert.Equal(t, payout.PayoutNo, transfer.IdempotencyKey)
	assert.Equal(t, "acct_123", transfer.AccountID)
	assert.Equal(t, 50.00, transfer.Amount)

	// Ledger identity after settlement.
	got, err := env.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.00, got.TotalEarnings)
	assert.Equal(t, 0.00, got.PendingBalance)
	assert.Equal(t, 50.00, got.TotalPaidOut)

	// Commissions are now paid.
	items, err := env.svc.GetLineItems(ctx, payout.ID)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, models.CommissionStatusPaid, item.Status)
		assert.NotNil(t, item.PaidAt)
	}

	require.NotNil(t, env.notifier.LastMessage())
	assert.Equal(t, notify.TemplatePayoutCompleted, env.notifier.LastMessage().Template)
}

func TestPayoutService_Process_ClaimIsExclusive(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	_, err = env.svc.Process(ctx, payout.ID, 1)
	require.NoError(t, err)

	// A second processor finds the payout already claimed.
	_, err = env.svc.Process(ctx, payout.ID, 2)
	assert.ErrorIs(t, err, errors.ErrPayoutAlreadyClaimed)
}

func TestPayoutService_Process_GatewayDeclines(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	env.gateway.FailNext = true

	processed, err := env.svc.Process(ctx, payout.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, processed.Status)
	require.NotNil(t, processed.FailureReason)

	// Commissions return to the payable pool and the balance is intact.
	got, err := env.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.00, got.PendingBalance)
	assert.Equal(t, 0.00, got.TotalPaidOut)

	// A fresh request can claim them again.
	retry, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)
	assert.Equal(t, 50.00, retry.Amount)

	assert.Equal(t, notify.TemplatePayoutFailed, env.notifier.LastMessage().Template)
}

func TestPayoutService_Process_GatewayTimeoutIsFailure(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	env.gateway.TimeoutNext = true

	processed, err := env.svc.Process(ctx, payout.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, processed.Status)
	require.NotNil(t, processed.FailureReason)
	assert.Contains(t, *processed.FailureReason, "timed out")

	// Nothing was settled.
	got, err := env.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.00, got.TotalPaidOut)
}

func TestPayoutService_Cancel(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, payout.ID, affiliate.ID))

	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCancelled, got.Status)

	// The commissions are claimable again.
	retry, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)
	assert.Equal(t, 50.00, retry.Amount)
}

func TestPayoutService_Cancel_WrongAffiliate(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	err = env.svc.Cancel(ctx, payout.ID, affiliate.ID+1)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestPayoutService_CancelAsAdmin(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	// Admin cancellation skips the ownership check.
	require.NoError(t, env.svc.CancelAsAdmin(ctx, payout.ID))

	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCancelled, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "cancelled by admin", *got.FailureReason)
}

func TestPayoutService_CancelAsAdmin_NotFound(t *testing.T) {
	env := setupPayoutTest(t)

	err := env.svc.CancelAsAdmin(context.Background(), 999)
	assert.ErrorIs(t, err, errors.ErrPayoutNotFound)
}

func TestPayoutService_Cancel_ProcessingRejected(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	_, err = env.svc.Process(ctx, payout.ID, 1)
	require.NoError(t, err)

	err = env.svc.Cancel(ctx, payout.ID, affiliate.ID)
	require.Error(t, err)
}

func TestPayoutService_CancelCommission_ShrinksPendingPayout(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 300.00, 200.00) // 30 + 20 commission
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	// A refund lands while the payout still waits for an operator. The
	// commission comes out and the payout shrinks.
	require.NoError(t, env.commissions.Cancel(ctx, &CancelRequest{TransactionID: "txn_001"}))

	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, got.Status)
	assert.Equal(t, 30.00, got.Amount)

	items, err := env.svc.GetLineItems(ctx, payout.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 30.00, items[0].CommissionAmount)
}

func TestPayoutService_CancelCommission_LastItemCancelsPayout(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00) // single 50 commission
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	require.NoError(t, env.commissions.Cancel(ctx, &CancelRequest{TransactionID: "txn_000"}))

	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCancelled, got.Status)
}

func TestPayoutService_CancelCommission_ProcessingPayoutBlocks(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&models.Payout{}).Where("id = ?", payout.ID).
		Update("status", models.PayoutStatusProcessing).Error)

	// The money may already be moving; the refund cannot pull the
	// commission out now.
	err = env.commissions.Cancel(ctx, &CancelRequest{TransactionID: "txn_000"})
	require.Error(t, err)

	var got models.Commission
	require.NoError(t, env.db.Where("transaction_id = ?", "txn_000").First(&got).Error)
	assert.Equal(t, models.CommissionStatusApproved, got.Status)
}

func TestPayoutService_RecoverStaleProcessing(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	// Simulate a processor that claimed the payout and died before
	// reaching the gateway.
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.db.Model(&models.Payout{}).Where("id = ?", payout.ID).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusProcessing,
			"processed_by": 1,
			"processed_at": stale,
		}).Error)

	recovered, err := env.svc.RecoverStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// The gateway never saw the transfer, so the payout fails.
	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, got.Status)

	// The commissions are claimable again.
	retry, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)
	assert.Equal(t, 50.00, retry.Amount)

	// A fresh processing payout is left alone.
	recovered, err = env.svc.RecoverStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}

func TestPayoutService_RecoverStaleProcessing_TransferLanded(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	// The transfer reached the gateway but the processor died before
	// settling the books.
	_, err = env.gateway.CreateTransfer(ctx, &paygate.TransferRequest{
		AccountID:      "acct_123",
		Amount:         50.00,
		Currency:       "USD",
		IdempotencyKey: payout.PayoutNo,
	})
	require.NoError(t, err)

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.db.Model(&models.Payout{}).Where("id = ?", payout.ID).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusProcessing,
			"processed_by": 1,
			"processed_at": stale,
		}).Error)

	recovered, err := env.svc.RecoverStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// The lookup found the transfer, so the payout settles as completed
	// instead of failing.
	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, got.Status)
	require.NotNil(t, got.GatewayTransferID)

	balance, err := env.directory.GetByID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.00, balance.TotalPaidOut)
	assert.Equal(t, 0.00, balance.PendingBalance)

	items, err := env.svc.GetLineItems(ctx, payout.ID)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, models.CommissionStatusPaid, item.Status)
	}
}

func TestPayoutService_RecoverStaleProcessing_LookupErrorWaits(t *testing.T) {
	env := setupPayoutTest(t)
	ctx := context.Background()

	affiliate := env.payableAffiliate(t, 500.00)
	payout, err := env.svc.Request(ctx, affiliate.ID, affiliate.UserID, 50.00)
	require.NoError(t, err)

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.db.Model(&models.Payout{}).Where("id = ?", payout.ID).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusProcessing,
			"processed_by": 1,
			"processed_at": stale,
		}).Error)

	// When the lookup itself fails nothing can be decided; the payout
	// waits for the next sweep.
	env.gateway.LookupErrNext = true
	recovered, err := env.svc.RecoverStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	got, err := env.svc.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, got.Status)

	// The next sweep resolves it.
	recovered, err = env.svc.RecoverStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
}
