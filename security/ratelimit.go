package security

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// defaultLimiterCacheSize bounds how many distinct ip/principal limiters are
// held in memory at once; evicted keys simply get a fresh bucket next time.
const defaultLimiterCacheSize = 4096

// RateLimiter enforces independent per-ip and per-principal request budgets.
type RateLimiter struct {
	perIPPerMinute        int
	perPrincipalPerMinute int

	mu    sync.Mutex
	byIP  *lru.Cache[string, *rate.Limiter]
	byPri *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter builds a RateLimiter from the configured per-minute budgets.
func NewRateLimiter(perIPPerMinute, perPrincipalPerMinute int) *RateLimiter {
	if perIPPerMinute <= 0 {
		perIPPerMinute = 120
	}
	if perPrincipalPerMinute <= 0 {
		perPrincipalPerMinute = 120
	}
	byIP, _ := lru.New[string, *rate.Limiter](defaultLimiterCacheSize)
	byPri, _ := lru.New[string, *rate.Limiter](defaultLimiterCacheSize)
	return &RateLimiter{
		perIPPerMinute:        perIPPerMinute,
		perPrincipalPerMinute: perPrincipalPerMinute,
		byIP:                  byIP,
		byPri:                 byPri,
	}
}

// AllowIP reports whether ip has budget remaining this rolling window.
func (r *RateLimiter) AllowIP(ip string) bool {
	if ip == "" {
		return true
	}
	return r.allow(r.byIP, ip, r.perIPPerMinute)
}

// AllowPrincipal reports whether principal has budget remaining this
// rolling window.
func (r *RateLimiter) AllowPrincipal(principal string) bool {
	if principal == "" {
		return true
	}
	return r.allow(r.byPri, principal, r.perPrincipalPerMinute)
}

func (r *RateLimiter) allow(cache *lru.Cache[string, *rate.Limiter], key string, perMinute int) bool {
	r.mu.Lock()
	lim, ok := cache.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		cache.Add(key, lim)
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Wait blocks until ip and principal both have budget, or ctx-less timeout
// elapses; used by long-poll paths that can tolerate a short stall instead
// of an outright rejection.
func (r *RateLimiter) Wait(ip, principal string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.AllowIP(ip) && r.AllowPrincipal(principal) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
