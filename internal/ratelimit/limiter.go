// Package ratelimit bounds how many queries a single requestor may issue
// per minute, with a sliding token-bucket window per user.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPerMinute = 10
	idleRetention    = 10 * time.Minute
)

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per requestor id.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	nowFn     func() time.Time
	entries   map[string]*entry
}

func NewLimiter(perMinute int, now func() time.Time) *Limiter {
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		perMinute: perMinute,
		nowFn:     now,
		entries:   make(map[string]*entry),
	}
}

// Allow reports whether userID may issue another query now.
func (l *Limiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	e, ok := l.entries[userID]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.entries[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// CooldownMessage is the reply posted to rate-limited requestors.
func (l *Limiter) CooldownMessage() string {
	perMinute := defaultPerMinute
	if l != nil {
		perMinute = l.perMinute
	}
	return fmt.Sprintf(
		"You've reached the rate limit (%d queries/minute). Please wait a moment before trying again.",
		perMinute,
	)
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-idleRetention)
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
