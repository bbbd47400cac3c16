package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newQueryContext(tenantID, userID string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/v1/knowledge-base/query", nil)
	c.Set(ContextTenantIDKey, tenantID)
	c.Set(ContextUserIDKey, userID)
	return c
}

func TestQueryLimiterBlocksOverQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := &queryLimiter{
		resolve:       func(string) int { return 2 },
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           func() time.Time { return now },
	}

	for i := 0; i < 2; i++ {
		c := newQueryContext("t1", "u1")
		limiter.handle(c)
		require.False(t, c.IsAborted())
	}
	c := newQueryContext("t1", "u1")
	limiter.handle(c)
	require.True(t, c.IsAborted())
}

func TestQueryLimiterWindowSlides(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := &queryLimiter{
		resolve:       func(string) int { return 1 },
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           func() time.Time { return now },
	}

	c := newQueryContext("t1", "u1")
	limiter.handle(c)
	require.False(t, c.IsAborted())

	c = newQueryContext("t1", "u1")
	limiter.handle(c)
	require.True(t, c.IsAborted())

	now = now.Add(61 * time.Second)
	c = newQueryContext("t1", "u1")
	limiter.handle(c)
	require.False(t, c.IsAborted())
}

func TestQueryLimiterIsolatesTenantsAndUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := &queryLimiter{
		resolve:       func(string) int { return 1 },
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           func() time.Time { return now },
	}

	c := newQueryContext("t1", "u1")
	limiter.handle(c)
	require.False(t, c.IsAborted())

	c = newQueryContext("t1", "u2")
	limiter.handle(c)
	require.False(t, c.IsAborted(), "other users are counted separately")

	c = newQueryContext("t2", "u1")
	limiter.handle(c)
	require.False(t, c.IsAborted(), "other tenants are counted separately")
}

func TestQueryLimiterUnlimitedTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &queryLimiter{
		resolve:       func(string) int { return 0 },
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           time.Now,
	}
	for i := 0; i < 10; i++ {
		c := newQueryContext("t1", "u1")
		limiter.handle(c)
		require.False(t, c.IsAborted())
	}
}

func TestQueryLimiterCleanupExpired(t *testing.T) {
	base := time.Now()
	limiter := &queryLimiter{
		resolve:       func(string) int { return 1 },
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           time.Now,
	}
	limiter.hits["stale|user"] = []time.Time{base.Add(-5 * time.Minute)}
	limiter.hits["active|user"] = []time.Time{base.Add(-10 * time.Second)}
	limiter.lastSweep = base.Add(-2 * time.Minute)

	limiter.mu.Lock()
	limiter.cleanupExpiredLocked(base)
	limiter.mu.Unlock()

	require.NotContains(t, limiter.hits, "stale|user")
	require.Contains(t, limiter.hits, "active|user")
}
