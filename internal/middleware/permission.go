// Package middleware provides HTTP middleware.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/common/response"
)

// PermissionChecker answers role/permission questions.
type PermissionChecker interface {
	HasPermission(roleCode, permissionCode string) bool
	HasAnyPermission(roleCode string, permissionCodes []string) bool
	HasAllPermissions(roleCode string, permissionCodes []string) bool
}

// RequirePermission requires the given permission.
func RequirePermission(checker PermissionChecker, permissionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}

		if !checker.HasPermission(role, permissionCode) {
			response.Forbidden(c, "permission denied")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAnyPermission requires at least one of the given permissions.
func RequireAnyPermission(checker PermissionChecker, permissionCodes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}

		if !checker.HasAnyPermission(role, permissionCodes) {
			response.Forbidden(c, "permission denied")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireRoles requires one of the given roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}

		if _, ok := roleSet[role]; !ok {
			response.Forbidden(c, "permission denied")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireSuperAdmin requires the super admin role.
func RequireSuperAdmin() gin.HandlerFunc {
	return RequireRoles("super_admin")
}

// Predefined permission codes.
const (
	// Affiliate program management
	PermissionAffiliateList    = "affiliate:list"
	PermissionAffiliateReview  = "affiliate:review"
	PermissionAffiliateUpdate  = "affiliate:update"
	PermissionAffiliateSuspend = "affiliate:suspend"

	// Tier management
	PermissionTierManage = "tier:manage"

	// Commission management
	PermissionCommissionList   = "commission:list"
	PermissionCommissionCancel = "commission:cancel"

	// Payout management
	PermissionPayoutList    = "payout:list"
	PermissionPayoutProcess = "payout:process"

	// System management
	PermissionSystemConfig = "system:config"
	PermissionSystemLog    = "system:log"
)
