package scheduler

import (
	"context"
	"time"

	"github.com/shopora/affiliate-backend/internal/common/logger"
	affiliateService "github.com/shopora/affiliate-backend/internal/service/affiliate"
)

// TaskHandler holds the services the background sweeps drive.
type TaskHandler struct {
	commissionService  *affiliateService.CommissionService
	payoutService      *affiliateService.PayoutService
	creditAwardService *affiliateService.CreditAwardService
}

// NewTaskHandler creates the task handler.
func NewTaskHandler(
	commissionSvc *affiliateService.CommissionService,
	payoutSvc *affiliateService.PayoutService,
	creditAwardSvc *affiliateService.CreditAwardService,
) *TaskHandler {
	return &TaskHandler{
		commissionService:  commissionSvc,
		payoutService:      payoutSvc,
		creditAwardService: creditAwardSvc,
	}
}

// ApproveHeldCommissions approves pending commissions whose refund hold
// has elapsed.
func (h *TaskHandler) ApproveHeldCommissions(ctx context.Context) error {
	approved, err := h.commissionService.ApproveHeldCommissions(ctx)
	if err != nil {
		return err
	}
	if approved > 0 {
		logger.Infof("approved %d held commissions", approved)
	}
	return nil
}

// RecoverStalePayouts fails payouts stuck in processing and frees their
// commissions.
func (h *TaskHandler) RecoverStalePayouts(ctx context.Context) error {
	recovered, err := h.payoutService.RecoverStaleProcessing(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Infof("recovered %d stale payouts", recovered)
	}
	return nil
}

// AwardStoreCredits grants credits for referred stores that reached the
// qualification age.
func (h *TaskHandler) AwardStoreCredits(ctx context.Context) error {
	granted, err := h.creditAwardService.ProcessQualifyingStores(ctx)
	if err != nil {
		return err
	}
	if granted > 0 {
		logger.Infof("granted %d store credit awards", granted)
	}
	return nil
}

// SetupTasks registers every background sweep.
func SetupTasks(scheduler *Scheduler, handler *TaskHandler) {
	// Hourly: release commissions out of the refund hold.
	scheduler.AddTask("ApproveHeldCommissions", 1*time.Hour, handler.ApproveHeldCommissions)

	// Hourly: fail payouts whose processor died mid-flight.
	scheduler.AddTask("RecoverStalePayouts", 1*time.Hour, handler.RecoverStalePayouts)

	// Daily: qualify referred stores and grant credits.
	scheduler.AddTask("AwardStoreCredits", 24*time.Hour, handler.AwardStoreCredits)
}
