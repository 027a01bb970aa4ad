package entity

import "time"

// Priority orders users for outgoing delivery and inactivity checks: higher
// ranks first, then the more recently active. Lower values sort first.
type Priority struct {
	RankGap         int
	InactiveMinutes int
}

// Less reports whether p should be served before o.
func (p Priority) Less(o Priority) bool {
	if p.RankGap != o.RankGap {
		return p.RankGap < o.RankGap
	}
	return p.InactiveMinutes < o.InactiveMinutes
}

// Reaches reports whether p is at or past the threshold t.
func (p Priority) Reaches(t Priority) bool {
	return !p.Less(t)
}

// MessagePriority computes the user's current priority.
func (u *User) MessagePriority(now time.Time) Priority {
	r := u.Rank
	if r < 0 {
		r = 0
	}
	return Priority{
		RankGap:         int(RankSysop - r),
		InactiveMinutes: int(now.Sub(u.LastActive) / time.Minute),
	}
}

// InactivityThreshold is the priority a user must reach to be considered AFK.
// Only the base rank can reach it; every elevated rank has a smaller gap.
func InactivityThreshold(timeout time.Duration) Priority {
	return Priority{
		RankGap:         int(RankSysop - RankUser),
		InactiveMinutes: int(timeout / time.Minute),
	}
}
