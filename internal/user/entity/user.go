package entity

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Rank is the ordered standing of a participant.
type Rank int

const (
	RankUser  Rank = 0
	RankMod   Rank = 10
	RankAdmin Rank = 20
	RankOwner Rank = 90
	RankSysop Rank = 100
)

var rankNames = map[Rank]string{
	RankUser:  "user",
	RankMod:   "mod",
	RankAdmin: "admin",
	RankOwner: "owner",
	RankSysop: "sysop",
}

func (r Rank) String() string {
	if n, ok := rankNames[r]; ok {
		return n
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

// ParseRank maps a rank name back to its value.
func ParseRank(name string) (Rank, bool) {
	for r, n := range rankNames {
		if n == name {
			return r, true
		}
	}
	return 0, false
}

// WarnExpiry is how long a warning stays on record before the sweep removes it.
const WarnExpiry = 7 * 24 * time.Hour

var cooldownBegin = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	25 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
	3 * 24 * time.Hour,
}

// after the fixed steps the cooldown grows linearly: 7d, 10d, 13d, ...
const (
	cooldownLinearM = 3 * 24 * time.Hour
	cooldownLinearB = 7 * 24 * time.Hour
)

// CooldownFor returns the cooldown handed out for a warning issued while the
// user already holds the given number of warnings.
func CooldownFor(warnings int) time.Duration {
	if warnings < len(cooldownBegin) {
		return cooldownBegin[warnings]
	}
	x := warnings - len(cooldownBegin)
	return cooldownLinearM*time.Duration(x) + cooldownLinearB
}

// User is one participant record. Records are never hard-deleted; leaving and
// blacklisting are tombstone states.
type User struct {
	ID              int64
	Username        *string
	Realname        string
	Rank            Rank
	Joined          time.Time
	Left            *time.Time
	LastActive      time.Time
	Inactive        bool
	CooldownUntil   *time.Time
	Blacklisted     bool
	BlacklistReason *string
	Warnings        int
	WarnExpiry      *time.Time
	Karma           int
	HideKarma       bool
	DebugEnabled    bool
	Tripcode        *string
}

// New returns a joined user with default standing.
func New(id int64, now time.Time) *User {
	return &User{
		ID:         id,
		Rank:       RankUser,
		Joined:     now,
		LastActive: now,
	}
}

func (u *User) String() string {
	return fmt.Sprintf("[%d] %s", u.ID, u.FormattedName())
}

// FormattedName is the @username if one is set, otherwise the real name.
func (u *User) FormattedName() string {
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return u.Realname
}

func (u *User) IsJoined() bool { return u.Left == nil }

func (u *User) IsBlacklisted() bool { return u.Blacklisted }

// IsInCooldown treats a cooldown in the past as no cooldown.
func (u *User) IsInCooldown(now time.Time) bool {
	return u.CooldownUntil != nil && now.Before(*u.CooldownUntil)
}

func (u *User) SetLeft(now time.Time) {
	if u.Left == nil {
		t := now
		u.Left = &t
	}
}

func (u *User) Rejoin() { u.Left = nil }

func (u *User) SetBlacklisted(now time.Time, reason string) {
	u.SetLeft(now)
	u.Blacklisted = true
	r := reason
	u.BlacklistReason = &r
}

func (u *User) RemoveBlacklist() {
	u.Blacklisted = false
	u.BlacklistReason = nil
}

// AddWarning records a warning and starts the matching cooldown, returning its length.
func (u *User) AddWarning(now time.Time) time.Duration {
	d := CooldownFor(u.Warnings)
	until := now.Add(d)
	u.CooldownUntil = &until
	u.Warnings++
	expiry := now.Add(WarnExpiry)
	u.WarnExpiry = &expiry
	return d
}

// RemoveWarning drops one warning; the expiry restarts while warnings remain.
func (u *User) RemoveWarning(now time.Time) {
	if u.Warnings > 0 {
		u.Warnings--
	}
	if u.Warnings > 0 {
		expiry := now.Add(WarnExpiry)
		u.WarnExpiry = &expiry
	} else {
		u.WarnExpiry = nil
	}
}

// ObfuscatedKarma adds noise proportional to the karma magnitude so moderators
// cannot correlate users by exact karma.
func (u *User) ObfuscatedKarma() int {
	k := float64(u.Karma)
	if k < 0 {
		k = -k
	}
	offset := int(k*0.2+0.5) + 2
	return u.Karma + rand.IntN(offset+2) - offset
}

// UpdateFromEvent refreshes the profile from an inbound platform event.
func (u *User) UpdateFromEvent(username *string, realname string, now time.Time) {
	u.Username = username
	u.Realname = realname
	u.LastActive = now
	u.Inactive = false
}

// Clone returns a deep copy, so pointer fields are never shared.
func (u *User) Clone() *User {
	c := *u
	c.Username = clonePtr(u.Username)
	c.Left = clonePtr(u.Left)
	c.CooldownUntil = clonePtr(u.CooldownUntil)
	c.BlacklistReason = clonePtr(u.BlacklistReason)
	c.WarnExpiry = clonePtr(u.WarnExpiry)
	c.Tripcode = clonePtr(u.Tripcode)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
