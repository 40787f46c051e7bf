package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultRateLimitClients bounds how many client buckets are remembered.
const DefaultRateLimitClients = 10_000

// RateLimit configures RateLimiter.
type RateLimit struct {
	// RPS is the steady-state token refill per client per second.
	RPS int
	// Burst is the bucket size. Zero means twice RPS.
	Burst int
	// MaxClients bounds the remembered buckets; the least recently seen
	// client is forgotten first. Zero means DefaultRateLimitClients.
	MaxClients int
}

// RequestCost charges requests that replay a whole chain more than cheap
// lookups: verify and export cost 5 tokens, everything else 1.
func RequestCost(c *gin.Context) int {
	p := c.Request.URL.Path
	if strings.HasSuffix(p, "/chains/verify") || strings.HasSuffix(p, "/chains/export") {
		return 5
	}
	return 1
}

// RateLimiter returns a Gin middleware enforcing a token bucket per client
// IP, charging RequestCost tokens per request. Rejected requests get 429 with
// a Retry-After hint derived from the bucket.
func RateLimiter(cfg RateLimit) gin.HandlerFunc {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPS * 2
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultRateLimitClients
	}
	// lru.New only fails for a non-positive size.
	buckets, _ := lru.New[string, *rate.Limiter](cfg.MaxClients)
	var mu sync.Mutex

	bucket := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := buckets.Get(ip); ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		buckets.Add(ip, l)
		return l
	}

	return func(c *gin.Context) {
		cost := RequestCost(c)
		if cost > cfg.Burst {
			cost = cfg.Burst
		}

		now := time.Now()
		r := bucket(c.ClientIP()).ReserveN(now, cost)
		if !r.OK() {
			tooMany(c, time.Second)
			return
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			tooMany(c, delay)
			return
		}
		c.Next()
	}
}

func tooMany(c *gin.Context, wait time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
	})
}
