package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage        = "send_message"
	ActionCreateConversation = "create_conversation"
	ActionUploadPhoto        = "upload_photo"
)

// Policy is a token bucket of Burst tokens refilled one every Every.
type Policy struct {
	Burst int
	Every time.Duration
}

var defaultPolicies = map[string]Policy{
	// 10 messages per minute
	ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
	// 5 conversations per hour
	ActionCreateConversation: {Burst: 5, Every: 12 * time.Minute},
	// 5 photo changes per minute
	ActionUploadPhoto: {Burst: 5, Every: 12 * time.Second},
}

// 20 actions per minute
var fallbackPolicy = Policy{Burst: 20, Every: 3 * time.Second}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one bucket per user and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRateLimiter() *RateLimiter {
	policies := make(map[string]Policy, len(defaultPolicies))
	for action, p := range defaultPolicies {
		policies[action] = p
	}
	return &RateLimiter{
		policies: policies,
		fallback: fallbackPolicy,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// SetPolicy overrides the bucket shape for an action. Existing buckets for the
// action are dropped.
func (rl *RateLimiter) SetPolicy(action string, p Policy) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.policies[action] = p
	suffix := ":" + action
	for key := range rl.buckets {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) policyFor(action string) Policy {
	if p, ok := rl.policies[action]; ok {
		return p
	}
	return rl.fallback
}

// Allow consumes a token for the user action. When the bucket is empty it
// reports how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		p := rl.policyFor(action)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(p.Every), p.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.policyFor(action).Every
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// GetStatus returns current tokens and capacity for a user action.
func (rl *RateLimiter) GetStatus(userID, action string) (tokens int, maxTokens int) {
	key := userID + ":" + action

	rl.mutex.Lock()
	b, exists := rl.buckets[key]
	rl.mutex.Unlock()

	if !exists {
		return 0, 0
	}
	return int(b.limiter.TokensAt(rl.now())), b.limiter.Burst()
}

// Cleanup removes buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine prunes idle buckets until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
