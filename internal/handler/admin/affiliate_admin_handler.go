// Package admin provides the admin console HTTP handlers.
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/common/handler"
	"github.com/shopora/affiliate-backend/internal/common/response"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/internal/service/affiliate"
)

// AffiliateHandler admin affiliate program handler.
type AffiliateHandler struct {
	directoryService   *affiliate.DirectoryService
	commissionService  *affiliate.CommissionService
	payoutService      *affiliate.PayoutService
	creditAwardService *affiliate.CreditAwardService
	exportService      *affiliate.ExportService
	operationLogRepo   *repository.OperationLogRepository
}

// NewAffiliateHandler creates the admin affiliate handler.
func NewAffiliateHandler(
	directorySvc *affiliate.DirectoryService,
	commissionSvc *affiliate.CommissionService,
	payoutSvc *affiliate.PayoutService,
	creditAwardSvc *affiliate.CreditAwardService,
	exportSvc *affiliate.ExportService,
	operationLogRepo *repository.OperationLogRepository,
) *AffiliateHandler {
	return &AffiliateHandler{
		directoryService:   directorySvc,
		commissionService:  commissionSvc,
		payoutService:      payoutSvc,
		creditAwardService: creditAwardSvc,
		exportService:      exportSvc,
		operationLogRepo:   operationLogRepo,
	}
}

// ListAffiliates lists affiliates with filters
// @Summary List affiliates
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param status query string false "status filter"
// @Param email query string false "email filter"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/affiliates [get]
func (h *AffiliateHandler) ListAffiliates(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if email := c.Query("email"); email != "" {
		filters["email"] = email
	}
	if tierID, ok := handler.ParseQueryID(c, "tier_id", "tier"); !ok {
		return
	} else if tierID != nil {
		filters["tier_id"] = *tierID
	}

	affiliates, total, err := h.directoryService.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, affiliates, total, p.Page, p.PageSize)
}

// GetPendingAffiliates lists applications awaiting review
// @Summary List pending affiliate applications
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/affiliates/pending [get]
func (h *AffiliateHandler) GetPendingAffiliates(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	affiliates, total, err := h.directoryService.GetPendingList(c.Request.Context(), p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, affiliates, total, p.Page, p.PageSize)
}

// GetAffiliate loads one affiliate
// @Summary Get an affiliate
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/v1/admin/affiliates/{id} [get]
func (h *AffiliateHandler) GetAffiliate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	account, err := h.directoryService.GetByID(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, account)
}

// ApproveRequest application approval request.
type ApproveRequest struct {
	TierID *int64 `json:"tier_id"`
}

// ApproveAffiliate approves a pending application
// @Summary Approve an affiliate application
// @Tags Admin/Affiliate
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Param request body ApproveRequest false "tier assignment"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/approve [post]
func (h *AffiliateHandler) ApproveAffiliate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}

	err := h.directoryService.Approve(c.Request.Context(), affiliateID, req.TierID)
	handler.MustSucceed(c, err, nil)
}

// RejectAffiliate declines a pending application
// @Summary Reject an affiliate application
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/reject [post]
func (h *AffiliateHandler) RejectAffiliate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	err := h.directoryService.Reject(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, nil)
}

// SuspendAffiliate suspends an approved affiliate
// @Summary Suspend an affiliate
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/suspend [post]
func (h *AffiliateHandler) SuspendAffiliate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	err := h.directoryService.Suspend(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, nil)
}

// ReinstateAffiliate lifts a suspension
// @Summary Reinstate a suspended affiliate
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/reinstate [post]
func (h *AffiliateHandler) ReinstateAffiliate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	err := h.directoryService.Reinstate(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, nil)
}

// CustomRateRequest per-affiliate rate override request.
type CustomRateRequest struct {
	Rate     float64 `json:"rate"`
	RateType string  `json:"rate_type" binding:"required"`
}

// SetCustomRate installs a per-affiliate commission override
// @Summary Set a custom commission rate
// @Tags Admin/Affiliate
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Param request body CustomRateRequest true "rate override"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/custom-rate [put]
func (h *AffiliateHandler) SetCustomRate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	var req CustomRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	err := h.directoryService.SetCustomRate(c.Request.Context(), affiliateID, req.Rate, req.RateType)
	handler.MustSucceed(c, err, nil)
}

// ClearCustomRate removes a per-affiliate rate override
// @Summary Clear a custom commission rate
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/affiliates/{id}/custom-rate [delete]
func (h *AffiliateHandler) ClearCustomRate(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	err := h.directoryService.ClearCustomRate(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, nil)
}

// GetAffiliateCommissions lists an affiliate's commissions
// @Summary List an affiliate's commissions
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param status query string false "status filter"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/affiliates/{id}/commissions [get]
func (h *AffiliateHandler) GetAffiliateCommissions(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}

	commissions, total, err := h.commissionService.GetByAffiliate(c.Request.Context(), affiliateID, p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, commissions, total, p.Page, p.PageSize)
}

// GetTopEarners returns the highest earning affiliates
// @Summary List top earning affiliates
// @Tags Admin/Affiliate
// @Produce json
// @Security Bearer
// @Param limit query int false "number of rows (default 10)"
// @Success 200 {object} response.Response{data=[]models.Affiliate}
// @Router /api/v1/admin/affiliates/top-earners [get]
func (h *AffiliateHandler) GetTopEarners(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	limit := 10
	if l, ok := handler.ParseQueryID(c, "limit", "limit"); !ok {
		return
	} else if l != nil {
		limit = int(*l)
	}

	affiliates, err := h.directoryService.GetTopEarners(c.Request.Context(), limit)
	handler.MustSucceed(c, err, affiliates)
}

// ListTiers lists all commission tiers
// @Summary List commission tiers
// @Tags Admin/Tier
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=[]models.AffiliateTier}
// @Router /api/v1/admin/tiers [get]
func (h *AffiliateHandler) ListTiers(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	tiers, err := h.directoryService.ListTiers(c.Request.Context())
	handler.MustSucceed(c, err, tiers)
}

// CreateTier creates a commission tier
// @Summary Create a commission tier
// @Tags Admin/Tier
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.TierRequest true "tier"
// @Success 200 {object} response.Response{data=models.AffiliateTier}
// @Router /api/v1/admin/tiers [post]
func (h *AffiliateHandler) CreateTier(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	var req affiliate.TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	tier, err := h.directoryService.CreateTier(c.Request.Context(), &req)
	handler.MustSucceed(c, err, tier)
}

// UpdateTier updates a commission tier
// @Summary Update a commission tier
// @Tags Admin/Tier
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "tier id"
// @Param request body affiliate.TierRequest true "tier"
// @Success 200 {object} response.Response{data=models.AffiliateTier}
// @Router /api/v1/admin/tiers/{id} [put]
func (h *AffiliateHandler) UpdateTier(c *gin.Context) {
	_, tierID, ok := handler.RequireAdminAndParseID(c, "tier")
	if !ok {
		return
	}

	var req affiliate.TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	tier, err := h.directoryService.UpdateTier(c.Request.Context(), tierID, &req)
	handler.MustSucceed(c, err, tier)
}

// DeleteTier removes a commission tier
// @Summary Delete a commission tier
// @Tags Admin/Tier
// @Produce json
// @Security Bearer
// @Param id path int true "tier id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/tiers/{id} [delete]
func (h *AffiliateHandler) DeleteTier(c *gin.Context) {
	_, tierID, ok := handler.RequireAdminAndParseID(c, "tier")
	if !ok {
		return
	}

	err := h.directoryService.DeleteTier(c.Request.Context(), tierID)
	handler.MustSucceed(c, err, nil)
}

// ApproveCommission approves a pending commission ahead of its hold window
// @Summary Approve a commission
// @Tags Admin/Commission
// @Produce json
// @Security Bearer
// @Param id path int true "commission id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/commissions/{id}/approve [post]
func (h *AffiliateHandler) ApproveCommission(c *gin.Context) {
	_, commissionID, ok := handler.RequireAdminAndParseID(c, "commission")
	if !ok {
		return
	}

	err := h.commissionService.Approve(c.Request.Context(), commissionID)
	handler.MustSucceed(c, err, nil)
}

// CancelCommissionRequest admin commission cancellation request.
type CancelCommissionRequest struct {
	Reason string `json:"reason"`
}

// CancelCommission reverses a pending commission
// @Summary Cancel a commission
// @Tags Admin/Commission
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "commission id"
// @Param request body CancelCommissionRequest false "reason"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/commissions/{id}/cancel [post]
func (h *AffiliateHandler) CancelCommission(c *gin.Context) {
	_, commissionID, ok := handler.RequireAdminAndParseID(c, "commission")
	if !ok {
		return
	}

	var req CancelCommissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}

	err := h.commissionService.CancelByID(c.Request.Context(), commissionID, req.Reason)
	handler.MustSucceed(c, err, nil)
}

// ListPayouts lists payouts with filters
// @Summary List payouts
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param status query string false "status filter"
// @Param affiliate_id query int false "affiliate filter"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/payouts [get]
func (h *AffiliateHandler) ListPayouts(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if affiliateID, ok := handler.ParseQueryID(c, "affiliate_id", "affiliate"); !ok {
		return
	} else if affiliateID != nil {
		filters["affiliate_id"] = *affiliateID
	}

	payouts, total, err := h.payoutService.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, payouts, total, p.Page, p.PageSize)
}

// GetPayout loads one payout
// @Summary Get a payout
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/v1/admin/payouts/{id} [get]
func (h *AffiliateHandler) GetPayout(c *gin.Context) {
	_, payoutID, ok := handler.RequireAdminAndParseID(c, "payout")
	if !ok {
		return
	}

	payout, err := h.payoutService.GetByID(c.Request.Context(), payoutID)
	handler.MustSucceed(c, err, payout)
}

// GetPayoutItems lists the commissions inside a payout
// @Summary List payout line items
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response{data=[]models.Commission}
// @Router /api/v1/admin/payouts/{id}/items [get]
func (h *AffiliateHandler) GetPayoutItems(c *gin.Context) {
	_, payoutID, ok := handler.RequireAdminAndParseID(c, "payout")
	if !ok {
		return
	}

	items, err := h.payoutService.GetLineItems(c.Request.Context(), payoutID)
	handler.MustSucceed(c, err, items)
}

// ProcessPayout sends a pending payout through the gateway
// @Summary Process a payout
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/v1/admin/payouts/{id}/process [post]
func (h *AffiliateHandler) ProcessPayout(c *gin.Context) {
	adminID, payoutID, ok := handler.RequireAdminAndParseID(c, "payout")
	if !ok {
		return
	}

	payout, err := h.payoutService.Process(c.Request.Context(), payoutID, adminID)
	handler.MustSucceed(c, err, payout)
}

// CancelPayout cancels a pending payout on an affiliate's behalf
// @Summary Cancel a payout
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/payouts/{id}/cancel [post]
func (h *AffiliateHandler) CancelPayout(c *gin.Context) {
	_, payoutID, ok := handler.RequireAdminAndParseID(c, "payout")
	if !ok {
		return
	}

	err := h.payoutService.CancelAsAdmin(c.Request.Context(), payoutID)
	handler.MustSucceed(c, err, nil)
}

// GetAffiliateCredits lists an affiliate's store credit awards
// @Summary List an affiliate's credit awards
// @Tags Admin/Credit
// @Produce json
// @Security Bearer
// @Param id path int true "affiliate id"
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/affiliates/{id}/credits [get]
func (h *AffiliateHandler) GetAffiliateCredits(c *gin.Context) {
	_, affiliateID, ok := handler.RequireAdminAndParseID(c, "affiliate")
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	awards, total, err := h.creditAwardService.GetByAffiliate(c.Request.Context(), affiliateID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, awards, total, p.Page, p.PageSize)
}

// TriggerCreditSweep runs the store credit award sweep immediately
// @Summary Trigger the credit award sweep
// @Tags Admin/Credit
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response
// @Router /api/v1/admin/credits/sweep [post]
func (h *AffiliateHandler) TriggerCreditSweep(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	awarded, err := h.creditAwardService.ProcessQualifyingStores(c.Request.Context())
	handler.MustSucceed(c, err, gin.H{"awarded": awarded})
}

// ListOperationLogs lists the admin audit trail
// @Summary List operation logs
// @Tags Admin/System
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param module query string false "module filter"
// @Param action query string false "action filter"
// @Param admin_id query int false "admin filter"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/logs/operation [get]
func (h *AffiliateHandler) ListOperationLogs(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if module := c.Query("module"); module != "" {
		filters["module"] = module
	}
	if action := c.Query("action"); action != "" {
		filters["action"] = action
	}
	if adminID, ok := handler.ParseQueryID(c, "admin_id", "admin"); !ok {
		return
	} else if adminID != nil {
		filters["admin_id"] = *adminID
	}

	logs, total, err := h.operationLogRepo.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, logs, total, p.Page, p.PageSize)
}

// ExportPayoutItems exports a payout's line items as CSV
// @Summary Export payout line items
// @Tags Admin/Payout
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response{data=affiliate.ExportResult}
// @Router /api/v1/admin/payouts/{id}/export [post]
func (h *AffiliateHandler) ExportPayoutItems(c *gin.Context) {
	_, payoutID, ok := handler.RequireAdminAndParseID(c, "payout")
	if !ok {
		return
	}

	result, err := h.exportService.ExportPayoutLineItems(c.Request.Context(), payoutID)
	handler.MustSucceed(c, err, result)
}
