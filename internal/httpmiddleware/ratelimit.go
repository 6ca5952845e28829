package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc picks the identity a request is limited by.
type KeyFunc func(c *gin.Context) string

// ClientIP limits by remote address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// Limiter is an in-memory per-key token bucket. Idle keys are evicted after
// ten minutes.
type Limiter struct {
	perMinute int
	burst     int
	key       KeyFunc

	mu      sync.Mutex
	buckets map[string]*entry
	sweep   time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLimiter allows perMinute requests per key with the given burst.
func NewLimiter(perMinute, burst int, key KeyFunc) *Limiter {
	if burst <= 0 {
		burst = perMinute
	}
	if key == nil {
		key = ClientIP
	}
	return &Limiter{perMinute: perMinute, burst: burst, key: key, buckets: make(map[string]*entry)}
}

// GinMiddleware rejects requests over the limit with 429.
func (l *Limiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.perMinute > 0 && !l.allow(l.key(c), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *Limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.sweep) > time.Minute {
		for k, e := range l.buckets {
			if now.Sub(e.seen) > 10*time.Minute {
				delete(l.buckets, k)
			}
		}
		l.sweep = now
	}
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.burst)}
		l.buckets[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}
