// Package referral provides the public referral tracking handlers.
package referral

import (
	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/common/handler"
	"github.com/shopora/affiliate-backend/internal/common/response"
	"github.com/shopora/affiliate-backend/internal/service/affiliate"
)

// Handler public referral handler. Endpoints here are hit by
// anonymous visitors, so they sit behind the click rate limiter
// instead of authentication.
type Handler struct {
	directoryService *affiliate.DirectoryService
	referralService  *affiliate.ReferralService
}

// NewHandler creates the referral handler.
func NewHandler(directorySvc *affiliate.DirectoryService, referralSvc *affiliate.ReferralService) *Handler {
	return &Handler{
		directoryService: directorySvc,
		referralService:  referralSvc,
	}
}

// TrackClickRequest click tracking request.
type TrackClickRequest struct {
	Code        string  `json:"code" binding:"required"`
	Email       *string `json:"email,omitempty"`
	Source      *string `json:"source,omitempty"`
	LandingPage *string `json:"landing_page,omitempty"`
}

// TrackClick records a referral link click
// @Summary Track a referral link click
// @Tags Referral
// @Accept json
// @Produce json
// @Param request body TrackClickRequest true "click"
// @Success 200 {object} response.Response{data=models.Referral}
// @Router /api/v1/r/click [post]
func (h *Handler) TrackClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	referral, err := h.referralService.TrackClick(c.Request.Context(), &affiliate.TrackClickRequest{
		Code:        req.Code,
		Email:       req.Email,
		Source:      req.Source,
		LandingPage: req.LandingPage,
	})
	handler.MustSucceed(c, err, referral)
}

// ValidateCode checks that a referral code resolves
// @Summary Validate a referral code
// @Tags Referral
// @Produce json
// @Param code path string true "referral code"
// @Success 200 {object} response.Response
// @Router /api/v1/r/{code} [get]
func (h *Handler) ValidateCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		response.BadRequest(c, "referral code is required")
		return
	}

	account, err := h.directoryService.ResolveCode(c.Request.Context(), code)
	if handler.HandleError(c, err) {
		return
	}

	// Only the display name leaks out; the account itself stays
	// private.
	response.Success(c, gin.H{
		"valid":          true,
		"affiliate_name": account.Name,
	})
}
