package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopora/affiliate-backend/internal/models"
	"github.com/shopora/affiliate-backend/internal/repository"
)

// OperationLogger records admin write actions for the audit trail.
type OperationLogger struct {
	repo *repository.OperationLogRepository
}

// NewOperationLogger creates the operation log middleware.
func NewOperationLogger(repo *repository.OperationLogRepository) *OperationLogger {
	return &OperationLogger{repo: repo}
}

// OperationConfig describes how one route is logged.
type OperationConfig struct {
	Module     string
	Action     string
	TargetType string
}

// moduleActionMap maps admin routes to their audit entries.
var moduleActionMap = map[string]OperationConfig{
	"POST /admin/affiliates/:id/approve": {
		Module:     "affiliate",
		Action:     "approve",
		TargetType: "affiliate",
	},
	"POST /admin/affiliates/:id/reject": {
		Module:     "affiliate",
		Action:     "reject",
		TargetType: "affiliate",
	},
	"POST /admin/affiliates/:id/suspend": {
		Module:     "affiliate",
		Action:     "suspend",
		TargetType: "affiliate",
	},
	"POST /admin/affiliates/:id/reinstate": {
		Module:     "affiliate",
		Action:     "reinstate",
		TargetType: "affiliate",
	},
	"PUT /admin/affiliates/:id/custom-rate": {
		Module:     "affiliate",
		Action:     "set_custom_rate",
		TargetType: "affiliate",
	},
	"DELETE /admin/affiliates/:id/custom-rate": {
		Module:     "affiliate",
		Action:     "clear_custom_rate",
		TargetType: "affiliate",
	},
	"POST /admin/tiers": {
		Module:     "tier",
		Action:     "create",
		TargetType: "tier",
	},
	"PUT /admin/tiers/:id": {
		Module:     "tier",
		Action:     "update",
		TargetType: "tier",
	},
	"DELETE /admin/tiers/:id": {
		Module:     "tier",
		Action:     "delete",
		TargetType: "tier",
	},
	"POST /admin/payouts/:id/process": {
		Module:     "payout",
		Action:     "process",
		TargetType: "payout",
	},
	"POST /admin/payouts/:id/export": {
		Module:     "payout",
		Action:     "export",
		TargetType: "payout",
	},
}

// Log returns the audit middleware. Only write methods are recorded.
func (l *OperationLogger) Log() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.shouldLog(c) {
			c.Next()
			return
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		c.Next()

		// Writing the record never blocks the response.
		go l.logOperation(c, requestBody)
	}
}

func (l *OperationLogger) shouldLog(c *gin.Context) bool {
	method := c.Request.Method
	return method == "POST" || method == "PUT" || method == "DELETE" || method == "PATCH"
}

func (l *OperationLogger) logOperation(c *gin.Context, requestBody []byte) {
	if l.repo == nil {
		return
	}

	path := c.FullPath()
	routeKey := c.Request.Method + " " + path
	config, ok := moduleActionMap[routeKey]
	if !ok && strings.HasPrefix(path, "/api/v1") {
		// Gin full paths carry the version prefix; the map does not.
		altKey := c.Request.Method + " " + strings.TrimPrefix(path, "/api/v1")
		config, ok = moduleActionMap[altKey]
	}
	if !ok {
		config = l.defaultConfig(c)
	}

	adminID, ok := l.adminID(c)
	if !ok {
		return
	}

	log := &models.OperationLog{
		AdminID: adminID,
		Module:  config.Module,
		Action:  config.Action,
		IP:      c.ClientIP(),
	}

	userAgent := c.Request.UserAgent()
	if userAgent != "" {
		log.UserAgent = &userAgent
	}

	if config.TargetType != "" {
		log.TargetType = &config.TargetType
		if targetID := l.targetID(c); targetID != nil {
			log.TargetID = targetID
		}
	}

	if len(requestBody) > 0 {
		var data interface{}
		if err := json.Unmarshal(requestBody, &data); err == nil {
			filtered := l.filterSensitiveData(data)
			if mapData, ok := filtered.(map[string]interface{}); ok {
				log.AfterData = mapData
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.repo.Create(ctx, log)
}

func (l *OperationLogger) adminID(c *gin.Context) (int64, bool) {
	// AdminAuth sets user_id / user_type.
	userType, _ := c.Get(ContextKeyUserType)
	if userTypeStr, ok := userType.(string); ok && userTypeStr == "admin" {
		if v, ok := c.Get(ContextKeyUserID); ok {
			if id, ok := v.(int64); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// defaultConfig infers the audit entry for unmapped routes.
func (l *OperationLogger) defaultConfig(c *gin.Context) OperationConfig {
	path := c.FullPath()
	method := c.Request.Method

	module := "unknown"
	if strings.Contains(path, "/affiliates") {
		module = "affiliate"
	} else if strings.Contains(path, "/tiers") {
		module = "tier"
	} else if strings.Contains(path, "/payouts") {
		module = "payout"
	} else if strings.Contains(path, "/commissions") {
		module = "commission"
	}

	action := "unknown"
	switch method {
	case "POST":
		action = "create"
	case "PUT", "PATCH":
		action = "update"
	case "DELETE":
		action = "delete"
	}

	return OperationConfig{
		Module: module,
		Action: action,
	}
}

func (l *OperationLogger) targetID(c *gin.Context) *int64 {
	idStr := c.Param("id")
	if idStr == "" {
		return nil
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// filterSensitiveData masks credentials before they reach the audit
// table.
func (l *OperationLogger) filterSensitiveData(data interface{}) interface{} {
	sensitiveFields := []string{
		"password", "token", "secret",
		"api_key", "api_secret",
		"gateway_account", "bank_account",
	}

	switch v := data.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{})
		for key, value := range v {
			lowerKey := strings.ToLower(key)
			isSensitive := false
			for _, sf := range sensitiveFields {
				if strings.Contains(lowerKey, sf) {
					isSensitive = true
					break
				}
			}
			if isSensitive {
				result[key] = "***"
			} else {
				result[key] = l.filterSensitiveData(value)
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = l.filterSensitiveData(item)
		}
		return result
	default:
		return data
	}
}
