package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultVoiceLimit is how many voice messages fit in one window.
const DefaultVoiceLimit = 10

// VoiceThrottle is a fixed window counter keyed by user. The window opens on
// the first voice message and resets once it is older than the interval.
type VoiceThrottle struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	limit    int
	first    map[int64]time.Time
	count    map[int64]int
}

func NewVoiceThrottle(clock clockwork.Clock, interval time.Duration, limit int) *VoiceThrottle {
	if limit <= 0 {
		limit = DefaultVoiceLimit
	}
	return &VoiceThrottle{
		clock:    clock,
		interval: interval,
		limit:    limit,
		first:    make(map[int64]time.Time),
		count:    make(map[int64]int),
	}
}

// Allow records one voice message and reports whether it may pass.
func (v *VoiceThrottle) Allow(uid int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	first, ok := v.first[uid]
	count := v.count[uid]
	if !ok || now.Sub(first) > v.interval {
		v.first[uid] = now
		count = 0
	} else if count >= v.limit {
		return false
	}
	v.count[uid] = count + 1
	return true
}

// Count returns the messages counted in the user's current window.
func (v *VoiceThrottle) Count(uid int64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count[uid]
}

// SigningThrottle enforces a cooldown between signed messages.
type SigningThrottle struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     map[int64]time.Time
}

func NewSigningThrottle(clock clockwork.Clock, interval time.Duration) *SigningThrottle {
	return &SigningThrottle{clock: clock, interval: interval, last: make(map[int64]time.Time)}
}

// Allow reports whether uid may sign now and, if so, starts a new cooldown.
// Intervals of a second or less disable the throttle.
func (s *SigningThrottle) Allow(uid int64) bool {
	if s.interval <= time.Second {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if last, ok := s.last[uid]; ok && now.Sub(last) < s.interval {
		return false
	}
	s.last[uid] = now
	return true
}

// MediaLimiter holds back media from accounts younger than the period.
type MediaLimiter struct {
	clock  clockwork.Clock
	period time.Duration
}

// NewMediaLimiter returns a limiter; a zero period disables it.
func NewMediaLimiter(clock clockwork.Clock, period time.Duration) *MediaLimiter {
	return &MediaLimiter{clock: clock, period: period}
}

// Check reports whether a user who joined at the given time may send media,
// and if not, how long remains.
func (m *MediaLimiter) Check(joined time.Time) (time.Duration, bool) {
	if m.period <= 0 {
		return 0, true
	}
	age := m.clock.Since(joined)
	if age >= m.period {
		return 0, true
	}
	return m.period - age, false
}

// RemainingHours rounds d to tenths of an hour for display.
func RemainingHours(d time.Duration) float64 {
	return float64(int(d.Hours()*10+0.5)) / 10
}
