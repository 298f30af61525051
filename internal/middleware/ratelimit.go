package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"
)

// maxClients bounds the number of tracked client IPs; the least recently
// seen client is forgotten first.
const maxClients = 100000

// RateLimiter is per-IP token bucket rate limiting middleware.
type RateLimiter struct {
	mu      sync.Mutex
	clients *simplelru.LRU[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	clients, _ := simplelru.NewLRU[string, *rate.Limiter](maxClients, nil)
	return &RateLimiter{
		clients: clients,
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Handler returns HTTP middleware that enforces per-IP rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := rl.now()
		lim := rl.limiter(realIP(r))

		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		remaining := int(math.Max(0, lim.TokensAt(now)))

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(time.Second).Unix(), 10))

		if !res.OK() || delay > 0 {
			res.CancelAt(now)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(math.Max(delay.Seconds(), 1))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if lim, ok := rl.clients.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Add(ip, lim)
	return lim
}

// Len returns the number of tracked client IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.clients.Len()
}

// realIP extracts the client IP from RemoteAddr.
// Proxy headers (X-Forwarded-For, X-Real-Ip) are NOT trusted because
// they can be spoofed to bypass rate limiting.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
