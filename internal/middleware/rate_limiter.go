package middleware

import (
	"net/http"
	"sync"
	"time"

	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = time.Minute
	visitorIdleTTL  = 3 * time.Minute
)

// IPRateLimiter keeps a token bucket per client IP.
type IPRateLimiter struct {
	ips map[string]*visitor
	mu  sync.Mutex
	r   rate.Limit
	b   int

	stop chan struct{}
	once sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter starts a limiter allowing r requests per second with
// bursts of b. Call Close to stop its cleanup goroutine.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		ips:  make(map[string]*visitor),
		r:    r,
		b:    b,
		stop: make(chan struct{}),
	}

	go i.cleanupVisitors()

	return i
}

func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, exists := i.ips[ip]
	if !exists {
		limiter := rate.NewLimiter(i.r, i.b)
		i.ips[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors forgets IPs idle for longer than visitorIdleTTL.
func (i *IPRateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			i.evictIdle(time.Now())
		}
	}
}

func (i *IPRateLimiter) evictIdle(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, v := range i.ips {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(i.ips, ip)
		}
	}
}

func (i *IPRateLimiter) Close() {
	i.once.Do(func() { close(i.stop) })
}

func (i *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !i.GetLimiter(c.ClientIP()).Allow() {
			utils.AbortResponse(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
