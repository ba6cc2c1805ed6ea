// Package webhook receives server-to-server events from the commerce
// platform.
package webhook

import (
	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/common/handler"
	"github.com/shopora/affiliate-backend/internal/common/response"
	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/internal/service/affiliate"
)

// Handler platform webhook handler. All routes sit behind service
// authentication; the caller is the platform, never a browser.
type Handler struct {
	referralService   *affiliate.ReferralService
	commissionService *affiliate.CommissionService
	storeRepo         *repository.StoreRepository
}

// NewHandler creates the webhook handler.
func NewHandler(
	referralSvc *affiliate.ReferralService,
	commissionSvc *affiliate.CommissionService,
	storeRepo *repository.StoreRepository,
) *Handler {
	return &Handler{
		referralService:   referralSvc,
		commissionService: commissionSvc,
		storeRepo:         storeRepo,
	}
}

// Signup attributes a new platform signup to its referral
// @Summary Record a platform signup
// @Tags Webhook
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.RecordSignupRequest true "signup"
// @Success 200 {object} response.Response{data=models.Referral}
// @Router /api/v1/webhooks/platform/signup [post]
func (h *Handler) Signup(c *gin.Context) {
	var req affiliate.RecordSignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	referral, err := h.referralService.RecordSignup(c.Request.Context(), &req)
	handler.MustSucceed(c, err, referral)
}

// Purchase accrues a commission for a completed purchase
// @Summary Record a completed purchase
// @Tags Webhook
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.AccrueRequest true "purchase"
// @Success 200 {object} response.Response{data=models.Commission}
// @Router /api/v1/webhooks/platform/purchase [post]
func (h *Handler) Purchase(c *gin.Context) {
	var req affiliate.AccrueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	commission, err := h.commissionService.AccrueOnPurchase(c.Request.Context(), &req)
	handler.MustSucceed(c, err, commission)
}

// Refund reverses the commission of a refunded purchase
// @Summary Record a refund
// @Tags Webhook
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.CancelRequest true "refund"
// @Success 200 {object} response.Response
// @Router /api/v1/webhooks/platform/refund [post]
func (h *Handler) Refund(c *gin.Context) {
	var req affiliate.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	err := h.commissionService.Cancel(c.Request.Context(), &req)
	handler.MustSucceed(c, err, nil)
}

// StoreSyncRequest store snapshot pushed by the platform.
type StoreSyncRequest struct {
	StoreID     int64   `json:"store_id" binding:"required"`
	OwnerUserID int64   `json:"owner_user_id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Published   bool    `json:"published"`
	PublishedAt *string `json:"published_at,omitempty"`
}

// StoreSync mirrors a platform store and links it to its owner's referral
// @Summary Sync a platform store
// @Tags Webhook
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body StoreSyncRequest true "store"
// @Success 200 {object} response.Response
// @Router /api/v1/webhooks/platform/store [post]
func (h *Handler) StoreSync(c *gin.Context) {
	var req StoreSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	store := &models.Store{
		ID:          req.StoreID,
		OwnerUserID: req.OwnerUserID,
		Name:        req.Name,
		Published:   req.Published,
	}
	if req.PublishedAt != nil {
		t, err := handler.ParseDateTime(*req.PublishedAt)
		if err != nil {
			response.BadRequest(c, "invalid published_at")
			return
		}
		store.PublishedAt = &t
	}

	if err := h.storeRepo.Upsert(c.Request.Context(), store); handler.HandleError(c, err) {
		return
	}

	// The owner may be an organic signup with no referral to attach
	// to; that is not an error for the platform.
	err := h.referralService.AttachStore(c.Request.Context(), req.OwnerUserID, req.StoreID)
	if err != nil && errors.GetAppError(err).Code != errors.ErrReferralNotFound.Code {
		handler.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}
