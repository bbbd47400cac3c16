package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/pkg/errcode"
	"github.com/xxxsen/jitkb/internal/pkg/response"
)

// LimitResolver returns a tenant's allowed requests per minute. Zero or a
// missing tenant means no limit.
type LimitResolver func(tenantID string) int

type queryLimiter struct {
	mu            sync.Mutex
	resolve       LimitResolver
	hits          map[string][]time.Time
	lastSweep     time.Time
	sweepInterval time.Duration
	now           func() time.Time
}

// QueryRateLimit enforces each tenant's per-minute query quota. Counting
// is per tenant and user over a sliding one-minute window.
func QueryRateLimit(resolve LimitResolver) gin.HandlerFunc {
	limiter := &queryLimiter{
		resolve:       resolve,
		hits:          make(map[string][]time.Time),
		sweepInterval: time.Minute,
		now:           time.Now,
	}
	return limiter.handle
}

func (l *queryLimiter) handle(c *gin.Context) {
	tenantID := c.GetString(ContextTenantIDKey)
	limit := l.resolve(tenantID)
	if limit <= 0 {
		c.Next()
		return
	}
	userID := c.GetString(ContextUserIDKey)
	key := strings.Join([]string{tenantID, userID}, "|")

	now := l.now()
	windowStart := now.Add(-time.Minute)
	l.mu.Lock()
	l.cleanupExpiredLocked(now)
	recent := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(windowStart) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= limit {
		l.hits[key] = recent
		l.mu.Unlock()
		logutil.GetLogger(c.Request.Context()).Warn("query rate limit hit",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Int("limit", limit),
		)
		response.Error(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		c.Abort()
		return
	}
	l.hits[key] = append(recent, now)
	l.mu.Unlock()
	c.Next()
}

func (l *queryLimiter) cleanupExpiredLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepInterval {
		return
	}
	windowStart := now.Add(-time.Minute)
	for key, times := range l.hits {
		keep := times[:0]
		for _, ts := range times {
			if ts.After(windowStart) {
				keep = append(keep, ts)
			}
		}
		if len(keep) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = keep
	}
	l.lastSweep = now
}
