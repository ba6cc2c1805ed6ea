// Package affiliate provides the affiliate-facing HTTP handlers.
package affiliate

import (
	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/common/crypto"
	"github.com/shopora/affiliate-backend/internal/common/handler"
	"github.com/shopora/affiliate-backend/internal/common/response"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/internal/service/affiliate"
)

// Handler affiliate portal handler.
type Handler struct {
	directoryService   *affiliate.DirectoryService
	referralService    *affiliate.ReferralService
	commissionService  *affiliate.CommissionService
	payoutService      *affiliate.PayoutService
	creditAwardService *affiliate.CreditAwardService
	exportService      *affiliate.ExportService
	commissionRepo     *repository.CommissionRepository
}

// NewHandler creates the affiliate portal handler.
func NewHandler(
	directorySvc *affiliate.DirectoryService,
	referralSvc *affiliate.ReferralService,
	commissionSvc *affiliate.CommissionService,
	payoutSvc *affiliate.PayoutService,
	creditAwardSvc *affiliate.CreditAwardService,
	exportSvc *affiliate.ExportService,
	commissionRepo *repository.CommissionRepository,
) *Handler {
	return &Handler{
		directoryService:   directorySvc,
		referralService:    referralSvc,
		commissionService:  commissionSvc,
		payoutService:      payoutSvc,
		creditAwardService: creditAwardSvc,
		exportService:      exportSvc,
		commissionRepo:     commissionRepo,
	}
}

// ApplyRequest affiliate application request.
type ApplyRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Name       string `json:"name" binding:"required"`
	RewardType string `json:"reward_type"`
}

// Apply submits an affiliate application
// @Summary Apply to the affiliate program
// @Tags Affiliate
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body ApplyRequest true "application"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/v1/affiliate/apply [post]
func (h *Handler) Apply(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := h.directoryService.Apply(c.Request.Context(), &affiliate.ApplyRequest{
		UserID:     userID,
		Email:      req.Email,
		Name:       req.Name,
		RewardType: req.RewardType,
	})
	handler.MustSucceed(c, err, result)
}

// GetProfile returns the caller's affiliate account
// @Summary Get my affiliate account
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/v1/affiliate/profile [get]
func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	if account.GatewayAccountID != nil {
		masked := crypto.MaskGatewayAccount(*account.GatewayAccountID)
		account.GatewayAccountID = &masked
	}
	response.Success(c, account)
}

// GetDashboard returns the affiliate dashboard
// @Summary Get my affiliate dashboard
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=affiliate.Dashboard}
// @Router /api/v1/affiliate/dashboard [get]
func (h *Handler) GetDashboard(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	dashboard, err := h.directoryService.GetDashboard(c.Request.Context(), userID, h.commissionRepo)
	handler.MustSucceed(c, err, dashboard)
}

// LinkResponse referral link payload.
type LinkResponse struct {
	ReferralCode string `json:"referral_code"`
	ReferralLink string `json:"referral_link"`
	QRCode       string `json:"qr_code,omitempty"`
}

// GetLink returns the shareable referral link and QR code
// @Summary Get my referral link
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param qr query bool false "include a QR code data URL"
// @Success 200 {object} response.Response{data=LinkResponse}
// @Router /api/v1/affiliate/link [get]
func (h *Handler) GetLink(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	resp := &LinkResponse{
		ReferralCode: account.ReferralCode,
		ReferralLink: h.directoryService.ReferralLink(account),
	}
	if c.Query("qr") == "true" {
		qr, err := h.directoryService.ReferralQR(account)
		if handler.HandleError(c, err) {
			return
		}
		resp.QRCode = qr
	}
	response.Success(c, resp)
}

// GatewayAccountRequest payout account binding request.
type GatewayAccountRequest struct {
	GatewayAccountID string `json:"gateway_account_id" binding:"required"`
}

// UpdateGatewayAccount binds an existing payment gateway account for
// payouts; whether payouts are enabled is read back from the gateway
// @Summary Update my payout account
// @Tags Affiliate
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body GatewayAccountRequest true "gateway account"
// @Success 200 {object} response.Response
// @Router /api/v1/affiliate/gateway-account [put]
func (h *Handler) UpdateGatewayAccount(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req GatewayAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	err = h.directoryService.UpdateGatewayAccount(c.Request.Context(), account.ID, req.GatewayAccountID)
	handler.MustSucceed(c, err, nil)
}

// GetOnboardingLink returns a hosted gateway onboarding URL
// @Summary Get a payout account onboarding link
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=paygate.OnboardingLink}
// @Router /api/v1/affiliate/gateway-account/onboarding-link [post]
func (h *Handler) GetOnboardingLink(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	link, err := h.directoryService.GetOnboardingLink(c.Request.Context(), account.ID)
	handler.MustSucceed(c, err, link)
}

// RefreshGatewayAccount re-reads the payout account from the gateway
// @Summary Refresh my payout account status
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=paygate.Account}
// @Router /api/v1/affiliate/gateway-account/refresh [post]
func (h *Handler) RefreshGatewayAccount(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	status, err := h.directoryService.RefreshAccountStatus(c.Request.Context(), account.ID)
	handler.MustSucceed(c, err, status)
}

// GetReferrals lists the caller's referrals
// @Summary List my referrals
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param status query string false "referral status filter"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/referrals [get]
func (h *Handler) GetReferrals(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}

	referrals, total, err := h.referralService.GetByAffiliate(c.Request.Context(), account.ID, p.GetOffset(), p.GetLimit(), filters)
	if handler.HandleError(c, err) {
		return
	}

	// Affiliates never see the full email of the people they referred.
	for _, r := range referrals {
		if r.ReferredEmail != nil {
			masked := crypto.MaskEmail(*r.ReferredEmail)
			r.ReferredEmail = &masked
		}
	}
	response.SuccessPage(c, referrals, total, p.Page, p.PageSize)
}

// GetCommissions lists the caller's commissions
// @Summary List my commissions
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Param status query string false "commission status filter"
// @Param start_date query string false "start date (YYYY-MM-DD)"
// @Param end_date query string false "end date (YYYY-MM-DD)"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/commissions [get]
func (h *Handler) GetCommissions(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	start, end, ok := handler.ParseQueryDateRange(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if start != nil {
		filters["start_time"] = *start
	}
	if end != nil {
		filters["end_time"] = *end
	}

	commissions, total, err := h.commissionService.GetByAffiliate(c.Request.Context(), account.ID, p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, commissions, total, p.Page, p.PageSize)
}

// GetCommissionStats returns the caller's commission totals
// @Summary Get my commission statistics
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response
// @Router /api/v1/affiliate/commissions/stats [get]
func (h *Handler) GetCommissionStats(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	stats, err := h.commissionService.GetStats(c.Request.Context(), account.ID)
	handler.MustSucceed(c, err, stats)
}

// PayoutRequest payout request payload.
type PayoutRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// RequestPayout requests a payout of part of the approved balance
// @Summary Request a payout
// @Tags Affiliate
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body PayoutRequest true "payout amount"
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/v1/affiliate/payouts [post]
func (h *Handler) RequestPayout(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	payout, err := h.payoutService.Request(c.Request.Context(), account.ID, userID, req.Amount)
	handler.MustSucceed(c, err, payout)
}

// GetPayouts lists the caller's payouts
// @Summary List my payouts
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/payouts [get]
func (h *Handler) GetPayouts(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	p := handler.BindPagination(c)
	payouts, total, err := h.payoutService.GetByAffiliate(c.Request.Context(), account.ID, p.GetOffset(), p.GetLimit())
	if handler.HandleError(c, err) {
		return
	}

	for _, payout := range payouts {
		payout.GatewayAccountID = crypto.MaskGatewayAccount(payout.GatewayAccountID)
	}
	response.SuccessPage(c, payouts, total, p.Page, p.PageSize)
}

// CancelPayout cancels a pending payout
// @Summary Cancel a pending payout
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response
// @Router /api/v1/affiliate/payouts/{id}/cancel [post]
func (h *Handler) CancelPayout(c *gin.Context) {
	userID, payoutID, ok := handler.RequireUserAndParseID(c, "payout")
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	err = h.payoutService.Cancel(c.Request.Context(), payoutID, account.ID)
	handler.MustSucceed(c, err, nil)
}

// GetPayoutItems lists the commissions inside one of the caller's payouts
// @Summary List payout line items
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param id path int true "payout id"
// @Success 200 {object} response.Response{data=[]models.Commission}
// @Router /api/v1/affiliate/payouts/{id}/items [get]
func (h *Handler) GetPayoutItems(c *gin.Context) {
	userID, payoutID, ok := handler.RequireUserAndParseID(c, "payout")
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	payout, err := h.payoutService.GetByID(c.Request.Context(), payoutID)
	if handler.HandleError(c, err) {
		return
	}
	if payout.AffiliateID != account.ID {
		response.Forbidden(c, "permission denied")
		return
	}

	items, err := h.payoutService.GetLineItems(c.Request.Context(), payoutID)
	handler.MustSucceed(c, err, items)
}

// GetCreditAwards lists the caller's store credit awards
// @Summary List my credit awards
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/credits [get]
func (h *Handler) GetCreditAwards(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	p := handler.BindPagination(c)
	awards, total, err := h.creditAwardService.GetByAffiliate(c.Request.Context(), account.ID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, awards, total, p.Page, p.PageSize)
}

// ExportCommissions exports the caller's commission statement as CSV
// @Summary Export my commission statement
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Param start_date query string false "start date (YYYY-MM-DD)"
// @Param end_date query string false "end date (YYYY-MM-DD)"
// @Success 200 {object} response.Response{data=affiliate.ExportResult}
// @Router /api/v1/affiliate/exports/commissions [get]
func (h *Handler) ExportCommissions(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	start, end, ok := handler.ParseQueryDateRange(c)
	if !ok {
		return
	}

	result, err := h.exportService.ExportCommissions(c.Request.Context(), account.ID, start, end)
	handler.MustSucceed(c, err, result)
}

// ExportPayouts exports the caller's payout history as CSV
// @Summary Export my payout history
// @Tags Affiliate
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=affiliate.ExportResult}
// @Router /api/v1/affiliate/exports/payouts [get]
func (h *Handler) ExportPayouts(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	account, err := h.directoryService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	result, err := h.exportService.ExportPayouts(c.Request.Context(), account.ID)
	handler.MustSucceed(c, err, result)
}
