// Package dedup suppresses duplicate webhook deliveries. Slack retries
// event deliveries at least once on slow acks, so intake keeps a bounded
// window of recently seen delivery keys.
package dedup

import (
	"strings"
	"sync"
	"time"
)

const defaultWindow = 5 * time.Minute

// Store tracks recently seen delivery keys within a retention window.
// Safe for concurrent use; the check-and-set is atomic, so exactly one
// caller observes first sight of a key even under simultaneous delivery.
type Store struct {
	mu     sync.Mutex
	window time.Duration
	nowFn  func() time.Time
	seen   map[string]time.Time
}

func NewStore(window time.Duration, now func() time.Time) *Store {
	if window <= 0 {
		window = defaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		window: window,
		nowFn:  now,
		seen:   make(map[string]time.Time),
	}
}

// FirstSeen reports whether key has not been seen within the retention
// window, marking it as seen when so. Returns false for duplicates.
func (s *Store) FirstSeen(key string) bool {
	if s == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = now
	return true
}

// Forget removes key so a later delivery is treated as first sight again.
// Used when enqueueing fails after the dedup mark, so the upstream retry
// is not suppressed.
func (s *Store) Forget(key string) {
	if s == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
}

func (s *Store) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	for key, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, key)
		}
	}
}

// Key derives the dedup key for a delivery: the explicit delivery id when
// the transport provides one, else a composite of the event identity.
func Key(eventID, eventType, userID, channelID, messageTS string) string {
	eventID = strings.TrimSpace(eventID)
	if eventID != "" {
		return eventID
	}
	return strings.Join([]string{
		strings.TrimSpace(eventType),
		strings.TrimSpace(userID),
		strings.TrimSpace(channelID),
		strings.TrimSpace(messageTS),
	}, ":")
}
