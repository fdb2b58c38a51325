package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/metrics"
)

const (
	keyPrefix = "rankvote:"

	// A client that trips any limit this many times within violationWindow
	// is blocked for blockDuration.
	violationThreshold = 10
	violationWindow    = time.Hour
	blockDuration      = 24 * time.Hour
)

// RateLimit defines limits for an endpoint.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

type limitRule struct {
	method string
	path   string
	prefix bool
	limit  RateLimit
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block clients after repeated violations
}

// RateLimiter implements sliding window rate limiting over Redis sorted sets.
type RateLimiter struct {
	client           *redis.Client
	rules            []limitRule
	blocker          *IPBlocker
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:           client,
		blocker:          NewIPBlocker(client),
		logger:           logger,
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
		// First match wins, so exact paths precede the prefix rule.
		rules: []limitRule{
			{method: http.MethodPost, path: "/polls", limit: RateLimit{20, time.Hour, ipKey}},
			{method: http.MethodPost, path: "/polls/join", limit: RateLimit{30, time.Minute, ipKey}},
			{method: http.MethodPost, path: "/polls/rejoin", limit: RateLimit{30, time.Minute, ipKey}},
			{method: http.MethodPost, path: "/polls/add-participant", limit: RateLimit{30, time.Minute, ipKey}},
			{method: http.MethodGet, path: "/polls/socket", limit: RateLimit{30, time.Minute, ipKey}},
			{method: http.MethodGet, path: "/polls/", prefix: true, limit: RateLimit{120, time.Minute, credentialKey}},
		},
	}

	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the caller's address. Proxy headers have already been
// folded into RemoteAddr by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func ipKey(r *http.Request) string {
	return keyPrefix + "rl:ip:" + clientIP(r)
}

// credentialKey buckets by access token so participants behind one NAT do
// not share a budget. Requests without a token fall back to the IP.
func credentialKey(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return ipKey(r)
	}
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + "rl:token:" + hex.EncodeToString(sum[:8])
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow records a request against key and reports whether it fits within
// limit requests per window. Redis failures allow the request.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var count *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		count = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Decision{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, err
	}

	seen := int(count.Val())
	return Decision{
		Allowed:   seen < limit,
		Remaining: max(limit-seen-1, 0),
		ResetAt:   now.Add(window),
	}, nil
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		d, err := rl.Allow(r.Context(), key, limit.Requests, limit.Window)
		if err != nil {
			rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))

			rl.trackViolation(r.Context(), ip)
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	for i := range rl.rules {
		rule := &rl.rules[i]
		if rule.method != r.Method {
			continue
		}
		if r.URL.Path == rule.path || (rule.prefix && strings.HasPrefix(r.URL.Path, rule.path)) {
			return &rule.limit
		}
	}
	return nil
}

func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	key := keyPrefix + "violations:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("ip", ip).Msg("failed to record violation")
		return
	}

	if count := incr.Val(); count >= violationThreshold {
		rl.blocker.Block(ctx, ip, blockDuration, "repeated rate limit violations")
		metrics.BlockedRequests.WithLabelValues("auto_block").Inc()
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return keyPrefix + "blocked:" + ip
}

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, _ := b.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockKey(ip), reason, duration)
}
