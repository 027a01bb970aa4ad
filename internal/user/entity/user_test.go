package entity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCooldownSchedule(t *testing.T) {
	cases := []struct {
		warnings int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 5 * time.Minute},
		{2, 25 * time.Minute},
		{3, 2 * time.Hour},
		{4, 12 * time.Hour},
		{5, 72 * time.Hour},
		{6, 7 * 24 * time.Hour},
		{7, 10 * 24 * time.Hour},
		{9, 16 * 24 * time.Hour},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CooldownFor(c.warnings), "warnings=%d", c.warnings)
	}
}

func TestAddAndRemoveWarning(t *testing.T) {
	u := New(1, t0)
	d := u.AddWarning(t0)
	assert.Equal(t, time.Minute, d)
	assert.Equal(t, 1, u.Warnings)
	assert.True(t, u.IsInCooldown(t0.Add(30*time.Second)))
	assert.False(t, u.IsInCooldown(t0.Add(time.Minute)))

	d = u.AddWarning(t0)
	assert.Equal(t, 5*time.Minute, d)
	require.NotNil(t, u.WarnExpiry)
	assert.True(t, u.WarnExpiry.Equal(t0.Add(WarnExpiry)))

	later := t0.Add(WarnExpiry)
	u.RemoveWarning(later)
	assert.Equal(t, 1, u.Warnings)
	assert.True(t, u.WarnExpiry.Equal(later.Add(WarnExpiry)))

	u.RemoveWarning(later)
	assert.Zero(t, u.Warnings)
	assert.Nil(t, u.WarnExpiry)

	u.RemoveWarning(later)
	assert.Zero(t, u.Warnings)
}

func TestBlacklistLeavesChat(t *testing.T) {
	u := New(1, t0)
	assert.True(t, u.IsJoined())
	u.SetBlacklisted(t0, "spam")
	assert.False(t, u.IsJoined())
	assert.True(t, u.IsBlacklisted())
	u.RemoveBlacklist()
	assert.False(t, u.IsBlacklisted())
	assert.Nil(t, u.BlacklistReason)
	assert.False(t, u.IsJoined())
}

func TestSetLeftKeepsFirstTime(t *testing.T) {
	u := New(1, t0)
	u.SetLeft(t0)
	u.SetLeft(t0.Add(time.Hour))
	assert.True(t, u.Left.Equal(t0))
	u.Rejoin()
	assert.True(t, u.IsJoined())
}

func TestFormattedName(t *testing.T) {
	u := New(1, t0)
	u.Realname = "Alice"
	assert.Equal(t, "Alice", u.FormattedName())
	name := "alice"
	u.Username = &name
	assert.Equal(t, "@alice", u.FormattedName())
	assert.Equal(t, "[1] @alice", u.String())
}

func TestRankNames(t *testing.T) {
	assert.Equal(t, "admin", RankAdmin.String())
	assert.Equal(t, "rank(5)", Rank(5).String())
	r, ok := ParseRank("owner")
	assert.True(t, ok)
	assert.Equal(t, RankOwner, r)
	_, ok = ParseRank("king")
	assert.False(t, ok)
}

func TestObfuscatedKarmaStaysNear(t *testing.T) {
	u := New(1, t0)
	u.Karma = 100
	for i := 0; i < 200; i++ {
		k := u.ObfuscatedKarma()
		assert.GreaterOrEqual(t, k, 100-22)
		assert.LessOrEqual(t, k, 100+23)
	}
}

func TestCloneIsDeep(t *testing.T) {
	u := New(1, t0)
	name := "alice"
	u.Username = &name
	u.SetBlacklisted(t0, "spam")

	c := u.Clone()
	*c.Username = "mallory"
	*c.BlacklistReason = "other"
	*c.Left = t0.Add(time.Hour)

	assert.Equal(t, "alice", *u.Username)
	assert.Equal(t, "spam", *u.BlacklistReason)
	assert.True(t, u.Left.Equal(t0))
}

func TestObfuscatedID(t *testing.T) {
	secret := []byte("s3cret")
	a := ObfuscateID(42, secret, t0)
	assert.Len(t, a, 4)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(oidAlphabet, r))
	}

	assert.Equal(t, a, ObfuscateID(42, secret, t0.Add(3*time.Hour)))
	assert.Equal(t, a, New(42, t0).ObfuscatedID(secret, t0))

	// blake2b keys top out at 64 bytes; longer ones are truncated
	long := []byte(strings.Repeat("k", 100))
	assert.Len(t, ObfuscateID(42, long, t0), 4)

	same := 0
	for id := int64(1); id <= 50; id++ {
		if ObfuscateID(id, secret, t0) == ObfuscateID(id, secret, t0.Add(24*time.Hour)) {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestMessagePriority(t *testing.T) {
	mod := New(1, t0)
	mod.Rank = RankMod
	user := New(2, t0)

	now := t0.Add(90 * time.Minute)
	assert.True(t, mod.MessagePriority(now).Less(user.MessagePriority(now)))

	fresh := New(3, now)
	assert.True(t, fresh.MessagePriority(now).Less(user.MessagePriority(now)))

	th := InactivityThreshold(time.Hour)
	assert.True(t, user.MessagePriority(now).Reaches(th))
	assert.False(t, fresh.MessagePriority(now).Reaches(th))
	assert.False(t, mod.MessagePriority(now.Add(1000*time.Hour)).Reaches(th))
}
