// Package metrics Prometheus metric collection unit tests.
package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Each Init call uses its own namespace; promauto panics on duplicate
// registration in the default registry.

func TestInit(t *testing.T) {
	t.Run("With default namespace", func(t *testing.T) {
		m := Init("")
		require.NotNil(t, m)
		assert.NotNil(t, m.httpRequestsTotal)
		assert.NotNil(t, m.httpRequestDuration)
		assert.NotNil(t, m.httpRequestsInFlight)
		assert.NotNil(t, m.dbQueriesTotal)
		assert.NotNil(t, m.dbQueryDuration)
		assert.NotNil(t, m.cacheHitsTotal)
		assert.NotNil(t, m.cacheMissesTotal)
		assert.NotNil(t, m.referralsTotal)
		assert.NotNil(t, m.commissionsTotal)
		assert.NotNil(t, m.payoutsTotal)
		assert.NotNil(t, m.creditAwardsTotal)
		assert.NotNil(t, m.gatewayTransfersTotal)
	})

	t.Run("With custom namespace", func(t *testing.T) {
		m := Init("custom_namespace")
		require.NotNil(t, m)
	})
}

func TestGetMetrics(t *testing.T) {
	Init("test_get")

	m := GetMetrics()
	require.NotNil(t, m)

	// Repeated calls return the same instance.
	assert.Same(t, m, GetMetrics())
}

func TestMetrics_RecordDBQuery(t *testing.T) {
	m := Init("test_db")

	t.Run("SELECT query", func(t *testing.T) {
		m.RecordDBQuery("SELECT", "affiliates", 10*time.Millisecond)
	})

	t.Run("INSERT query", func(t *testing.T) {
		m.RecordDBQuery("INSERT", "referrals", 5*time.Millisecond)
	})

	t.Run("UPDATE query", func(t *testing.T) {
		m.RecordDBQuery("UPDATE", "commissions", 3*time.Millisecond)
	})

	t.Run("DELETE query", func(t *testing.T) {
		m.RecordDBQuery("DELETE", "operation_logs", 2*time.Millisecond)
	})
}

func TestMetrics_RecordCache(t *testing.T) {
	m := Init("test_cache")

	t.Run("Cache hit", func(t *testing.T) {
		m.RecordCacheHit("refcode")
		m.RecordCacheHit("affiliate")
	})

	t.Run("Cache miss", func(t *testing.T) {
		m.RecordCacheMiss("refcode")
		m.RecordCacheMiss("affiliate")
	})
}

func TestMetrics_RecordReferral(t *testing.T) {
	m := Init("test_referrals")

	t.Run("Click event", func(t *testing.T) {
		m.RecordReferral("click")
	})

	t.Run("Signup event", func(t *testing.T) {
		m.RecordReferral("signup")
	})

	t.Run("Conversion event", func(t *testing.T) {
		m.RecordReferral("conversion")
	})
}

func TestMetrics_RecordCommission(t *testing.T) {
	m := Init("test_commissions")

	for _, status := range []string{"pending", "approved", "paid", "reversed"} {
		m.RecordCommission(status)
	}
}

func TestMetrics_RecordPayout(t *testing.T) {
	m := Init("test_payouts")

	for _, status := range []string{"requested", "processing", "completed", "failed"} {
		m.RecordPayout(status)
	}
}

func TestMetrics_RecordCreditAward(t *testing.T) {
	m := Init("test_credit_awards")

	m.RecordCreditAward()
	m.RecordCreditAward()
}

func TestMetrics_RecordGatewayTransfer(t *testing.T) {
	m := Init("test_gateway")

	t.Run("Successful transfer", func(t *testing.T) {
		m.RecordGatewayTransfer("success")
	})

	t.Run("Failed transfer", func(t *testing.T) {
		m.RecordGatewayTransfer("failed")
	})
}

func TestRecordHTTPRequest(t *testing.T) {
	Init("test_http")

	RecordHTTPRequest("GET", "/api/v1/affiliate/profile", "200", 100*time.Millisecond)
	RecordHTTPRequest("POST", "/api/v1/affiliate/payouts", "200", 50*time.Millisecond)
	RecordHTTPRequest("GET", "/r/UNKNOWN", "404", 10*time.Millisecond)
	RecordHTTPRequest("POST", "/api/v1/webhooks/orders", "500", 200*time.Millisecond)
}

func TestMetrics_Middleware(t *testing.T) {
	m := Init("test_middleware")

	router := gin.New()
	router.Use(m.Middleware())

	router.GET("/api/v1/affiliate/profile", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, "metrics")
	})

	t.Run("Records request metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/affiliate/profile", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Skips the metrics endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/metrics", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandler(t *testing.T) {
	Init("test_handler")

	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	// Go runtime metrics are always exported.
	assert.Contains(t, w.Body.String(), "go_")
}
