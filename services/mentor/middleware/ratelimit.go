// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jinterlante1206/MentorLocal/services/mentor/observability"
)

// staleAfter is how long an idle client entry survives before eviction.
const staleAfter = 10 * time.Minute

// RateLimiter keys token buckets per client. Authenticated requests are
// keyed by account id, anonymous ones by client IP. The AI endpoints carry
// their own, stricter limiter instance; limits are independent per scope.
type RateLimiter struct {
	scope string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing limit events per second with
// the given burst, tracked per client under the scope label.
func NewRateLimiter(scope string, limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		scope:   scope,
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*client),
	}
}

// Middleware enforces the limit, answering 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if acct := GetAccount(c); acct != nil {
			key = acct.ID
		}

		lim := rl.limiterFor(key)
		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			if m := observability.DefaultMetrics; m != nil {
				m.RateLimitedTotal.WithLabelValues(rl.scope).Inc()
			}
			retryAfter := int(math.Ceil(delay.Seconds()))
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &client{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now

	// Lazy eviction keeps the map bounded without a background sweep.
	if len(rl.clients) > 10000 {
		for k, v := range rl.clients {
			if now.Sub(v.lastSeen) > staleAfter {
				delete(rl.clients, k)
			}
		}
	}
	return cl.lim
}
