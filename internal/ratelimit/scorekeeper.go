// Package ratelimit holds the in-memory admission limiters. Nothing here is
// persisted; a restart resets every counter.
package ratelimit

import "sync"

const (
	// DefaultSpamLimit is the soft limit: a score above it rejects outright.
	DefaultSpamLimit = 3
	// DefaultSpamLimitHit is where a score is parked once it crosses the soft limit.
	DefaultSpamLimitHit = 6
)

// ScoreKeeper tracks a decaying spam score per user.
type ScoreKeeper struct {
	mu     sync.Mutex
	scores map[int64]int
	limit  int
	hit    int
}

func NewScoreKeeper(limit, hit int) *ScoreKeeper {
	if limit <= 0 {
		limit = DefaultSpamLimit
	}
	if hit < limit {
		hit = limit
	}
	return &ScoreKeeper{scores: make(map[int64]int), limit: limit, hit: hit}
}

// Increase adds n to the user's score and reports whether the message may pass.
//
// A score already above the soft limit rejects without adding. Crossing the
// soft limit parks the score at the hit ceiling; the crossing message itself
// passes only if the unclamped sum stays within that ceiling, so one large
// burst fails while the parked score blocks everything after it until decay.
func (k *ScoreKeeper) Increase(uid int64, n int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := k.scores[uid]
	if s > k.limit {
		return false
	}
	if s+n > k.limit {
		k.scores[uid] = k.hit
		return s+n <= k.hit
	}
	if s+n <= 0 {
		delete(k.scores, uid)
		return true
	}
	k.scores[uid] = s + n
	return true
}

// Decay lowers every score by one and forgets users that reach zero.
func (k *ScoreKeeper) Decay() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for uid, s := range k.scores {
		if s-1 <= 0 {
			delete(k.scores, uid)
		} else {
			k.scores[uid] = s - 1
		}
	}
}

// Score returns the current score for uid.
func (k *ScoreKeeper) Score(uid int64) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scores[uid]
}

// Tracked returns how many users currently hold a non-zero score.
func (k *ScoreKeeper) Tracked() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.scores)
}
