package lounge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

func TestRankGateIsSilent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	alice, bob := caller(1, "alice"), caller(2, "bob")
	h.join(t, alice, bob)
	msid := h.send(t, alice)

	calls := map[string]func() ([]reply.Reply, error){
		"warn":        func() ([]reply.Reply, error) { return h.core.Warn(ctx, bob, msid, "", false) },
		"remove":      func() ([]reply.Reply, error) { return h.core.Remove(ctx, bob, msid, "") },
		"info-mod":    func() ([]reply.Reply, error) { return h.core.InfoMod(ctx, bob, msid) },
		"blacklist":   func() ([]reply.Reply, error) { return h.core.Blacklist(ctx, bob, msid, "") },
		"cleanup":     func() ([]reply.Reply, error) { return h.core.Cleanup(ctx, bob) },
		"preban":      func() ([]reply.Reply, error) { return h.core.Preban(ctx, bob, "5:x") },
		"unblacklist": func() ([]reply.Reply, error) { return h.core.Unblacklist(ctx, bob, "alice") },
		"uncooldown":  func() ([]reply.Reply, error) { return h.core.Uncooldown(ctx, bob, "alice") },
		"promote":     func() ([]reply.Reply, error) { return h.core.Promote(ctx, bob, "alice", entity.RankMod) },
		"demote":      func() ([]reply.Reply, error) { return h.core.Demote(ctx, bob, "alice") },
	}
	for name, call := range calls {
		rs, err := call()
		require.NoError(t, err, name)
		assert.Nil(t, rs, name)
	}
	assert.Empty(t, h.rec.replies)
	assert.Empty(t, h.rec.deletes)
	assert.Equal(t, 0, h.user(t, 1).Warnings)
}

func TestWarn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	admin, mod, carol := caller(1, "admin"), caller(2, "mod"), caller(3, "carol")
	h.join(t, admin, mod, carol)
	h.setRank(t, 2, entity.RankMod)
	msid := h.send(t, carol)

	rs, err := h.core.Warn(ctx, mod, msid, "rude", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))

	u := h.user(t, 3)
	assert.Equal(t, 1, u.Warnings)
	assert.Equal(t, -KarmaWarnPenalty, u.Karma)
	require.NotNil(t, u.CooldownUntil)
	assert.True(t, u.CooldownUntil.After(h.clock.Now()))
	require.NotNil(t, u.WarnExpiry)

	notices := h.rec.privateTo(3)
	require.Len(t, notices, 1)
	n := notices[0]
	assert.Equal(t, reply.GivenCooldown, n.Message.Type)
	assert.Equal(t, time.Minute, n.Message.Get("duration"))
	assert.Equal(t, false, n.Message.Get("deleted"))
	assert.Equal(t, "rude", n.Message.Get("reason"))
	assert.Equal(t, msid, n.ReplyTo)
	assert.Zero(t, n.ID)

	rs, err = h.core.Warn(ctx, mod, msid, "again", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrAlreadyWarned}, types(rs))
	assert.Equal(t, reply.Conflict, rs[0].Type.Category())

	rs, err = h.core.Warn(ctx, mod, msid, "again", true)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.Equal(t, []int64{msid}, h.rec.deletes)
	assert.Equal(t, 1, h.user(t, 3).Warnings)

	assert.Equal(t, []modlogentity.Action{modlogentity.ActionWarn, modlogentity.ActionDelete}, h.audit.actions())
}

func TestWarnConcurrentPenalizesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "admin"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.core.Warn(ctx, caller(1, "admin"), msid, "", false)
		}()
	}
	wg.Wait()
	u := h.user(t, 2)
	assert.Equal(t, 1, u.Warnings)
	assert.Equal(t, -KarmaWarnPenalty, u.Karma)
}

func TestWarnUnknownMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "admin"))

	rs, err := h.core.Warn(ctx, caller(1, "admin"), 12345, "", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNotInCache}, types(rs))

	h.core.pushSystemMessage(reply.New(reply.Custom, "text", "sys"), nil, nil, 0)
	sys := h.rec.replies[0].ID
	rs, err = h.core.Warn(ctx, caller(1, "admin"), sys, "", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNotInCache}, types(rs))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "admin"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))

	rs, err := h.core.Remove(ctx, caller(1, "admin"), msid, "off topic")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.Equal(t, []int64{msid}, h.rec.deletes)
	notices := h.rec.privateTo(2)
	require.Len(t, notices, 1)
	assert.Equal(t, reply.MessageRemoved, notices[0].Message.Type)
	assert.Equal(t, 0, h.user(t, 2).Warnings)
}

func TestRemoveDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AllowRemoveCommand = false
	h := newHarness(t, cfg)
	h.join(t, caller(1, "admin"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))

	rs, err := h.core.Remove(ctx, caller(1, "admin"), msid, "")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrCommandDisabled}, types(rs))
	assert.Empty(t, h.rec.deletes)
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))

	rs, err := h.core.Blacklist(ctx, caller(1, "sysop"), msid, "spam")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))

	u := h.user(t, 2)
	assert.True(t, u.IsBlacklisted())
	assert.False(t, u.IsJoined())
	assert.Equal(t, "spam", *u.BlacklistReason)

	assert.Equal(t, []stopCall{{user: 2, deleteOut: true}}, h.rec.stops)
	assert.Equal(t, []int64{msid}, h.rec.deletes)
	notices := h.rec.privateTo(2)
	require.Len(t, notices, 1)
	assert.Equal(t, reply.ErrBlacklisted, notices[0].Message.Type)

	cm, ok := h.core.cache.Get(msid)
	require.True(t, ok)
	assert.True(t, cm.Warned)

	rs, err = h.core.Join(ctx, caller(2, "carol"))
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrBlacklisted}, types(rs))
}

func TestBlacklistOutranked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "admin"), caller(3, "admin2"))
	h.setRank(t, 2, entity.RankAdmin)
	h.setRank(t, 3, entity.RankAdmin)
	msid := h.send(t, caller(3, "admin2"))

	rs, err := h.core.Blacklist(ctx, caller(2, "admin"), msid, "x")
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.False(t, h.user(t, 3).IsBlacklisted())
	assert.Empty(t, h.rec.stops)
	assert.Empty(t, h.rec.deletes)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"), caller(3, "dave"))
	first := h.send(t, caller(2, "carol"))
	second := h.send(t, caller(2, "carol"))
	h.send(t, caller(3, "dave"))

	_, err := h.core.Blacklist(ctx, caller(1, "sysop"), first, "spam")
	require.NoError(t, err)

	rs, err := h.core.Cleanup(ctx, caller(1, "sysop"))
	require.NoError(t, err)
	require.Equal(t, []reply.Type{reply.CleanupQueued}, types(rs))
	assert.Equal(t, 1, rs[0].Get("count"))
	assert.Equal(t, []int64{first, second}, h.rec.deletes)

	rs, err = h.core.Cleanup(ctx, caller(1, "sysop"))
	require.NoError(t, err)
	assert.Equal(t, 0, rs[0].Get("count"))
}

func TestPreban(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"))

	for _, bad := range []string{"", ":reason", "42:", "42", "abc:reason", "42:a@b", "42:line\nbreak"} {
		rs, err := h.core.Preban(ctx, caller(1, "sysop"), bad)
		require.NoError(t, err)
		assert.Equal(t, []reply.Type{reply.ErrInvalidPrebanFormat}, types(rs), bad)
	}

	rs, err := h.core.Preban(ctx, caller(1, "sysop"), "42:ban evader")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))

	u := h.user(t, 42)
	assert.Equal(t, "PREBANNED", u.Realname)
	assert.True(t, u.IsBlacklisted())
	assert.Equal(t, "ban evader (preemptively banned)", *u.BlacklistReason)

	rs, err = h.core.Join(ctx, caller(42, "evader"))
	require.NoError(t, err)
	require.Equal(t, []reply.Type{reply.ErrBlacklisted}, types(rs))
	assert.Equal(t, "ban evader (preemptively banned)", rs[0].Get("reason"))

	rs, err = h.core.Preban(ctx, caller(1, "sysop"), "42:again")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrAlreadyBanned}, types(rs))
}

func TestPrebanExistingUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"), caller(3, "dave"))
	_, err := h.core.Leave(ctx, caller(3, "dave"))
	require.NoError(t, err)
	stopsBefore := len(h.rec.stops)

	rs, err := h.core.Preban(ctx, caller(1, "sysop"), "2:joined")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.True(t, h.user(t, 2).IsBlacklisted())
	assert.Len(t, h.rec.stops, stopsBefore+1)
	assert.Len(t, h.rec.privateTo(2), 1)

	rs, err = h.core.Preban(ctx, caller(1, "sysop"), "3:left")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.True(t, h.user(t, 3).IsBlacklisted())
	assert.Len(t, h.rec.stops, stopsBefore+1)
	assert.Empty(t, h.rec.privateTo(3))

	rs, err = h.core.Preban(ctx, caller(1, "sysop"), "1:self")
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.False(t, h.user(t, 1).IsBlacklisted())
}

func TestUnblacklist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))
	_, err := h.core.Warn(ctx, caller(1, "sysop"), msid, "", false)
	require.NoError(t, err)
	_, err = h.core.Blacklist(ctx, caller(1, "sysop"), msid, "spam")
	require.NoError(t, err)

	rs, err := h.core.Unblacklist(ctx, caller(1, "sysop"), "nobody")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNoUser}, types(rs))

	rs, err = h.core.Unblacklist(ctx, caller(1, "sysop"), "999")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNoUserByID}, types(rs))

	rs, err = h.core.Unblacklist(ctx, caller(1, "sysop"), "@Carol")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	u := h.user(t, 2)
	assert.False(t, u.IsBlacklisted())
	assert.Nil(t, u.CooldownUntil)

	rs, err = h.core.Unblacklist(ctx, caller(1, "sysop"), "2")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNotBlacklisted}, types(rs))

	rs, err = h.core.Join(ctx, caller(2, "carol"))
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ChatJoin}, types(rs))
}

func TestUncooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"))

	rs, err := h.core.Uncooldown(ctx, caller(1, "sysop"), "carol")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNotInCooldown}, types(rs))

	msid := h.send(t, caller(2, "carol"))
	_, err = h.core.Warn(ctx, caller(1, "sysop"), msid, "", false)
	require.NoError(t, err)

	oid := h.core.oid(h.user(t, 2))
	rs, err = h.core.Uncooldown(ctx, caller(1, "sysop"), oid)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	u := h.user(t, 2)
	assert.Nil(t, u.CooldownUntil)
	assert.Equal(t, 0, u.Warnings)
	assert.Nil(t, u.WarnExpiry)

	rs, err = h.core.Uncooldown(ctx, caller(1, "sysop"), "zzzz")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNoUser}, types(rs))
}

func TestPromoteAndDemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "owner"), caller(3, "carol"))
	h.setRank(t, 2, entity.RankOwner)

	rs, err := h.core.Promote(ctx, caller(2, "owner"), "carol", entity.RankOwner)
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.Equal(t, entity.RankUser, h.user(t, 3).Rank)

	rs, err = h.core.Promote(ctx, caller(2, "owner"), "nobody", entity.RankMod)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNoUser}, types(rs))

	rs, err = h.core.Promote(ctx, caller(2, "owner"), "carol", entity.RankAdmin)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.Equal(t, entity.RankAdmin, h.user(t, 3).Rank)
	notices := h.rec.privateTo(3)
	require.Len(t, notices, 1)
	assert.Equal(t, reply.PromotedAdmin, notices[0].Message.Type)

	rs, err = h.core.Promote(ctx, caller(2, "owner"), "carol", entity.RankMod)
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.Equal(t, entity.RankAdmin, h.user(t, 3).Rank)

	rs, err = h.core.Demote(ctx, caller(2, "owner"), "sysop")
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.Equal(t, entity.RankSysop, h.user(t, 1).Rank)

	rs, err = h.core.Demote(ctx, caller(2, "owner"), "carol")
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	assert.Equal(t, entity.RankUser, h.user(t, 3).Rank)
}

func TestInfoMod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "sysop"), caller(2, "carol"))
	msid := h.send(t, caller(2, "carol"))

	rs, err := h.core.InfoMod(ctx, caller(1, "sysop"), msid)
	require.NoError(t, err)
	require.Equal(t, []reply.Type{reply.UserInfoMod}, types(rs))
	assert.Equal(t, h.core.oid(h.user(t, 2)), rs[0].Get("id"))
	karma := rs[0].Get("karma").(int)
	assert.InDelta(t, 0, karma, 2)
}

func TestGiveKarma(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	alice, bob := caller(1, "alice"), caller(2, "bob")
	h.join(t, alice, bob)
	msid := h.send(t, bob)

	rs, err := h.core.GiveKarma(ctx, bob, msid)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrUpvoteOwnMessage}, types(rs))

	rs, err = h.core.GiveKarma(ctx, alice, msid)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.KarmaThankYou}, types(rs))

	rs, err = h.core.GiveKarma(ctx, alice, msid)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrAlreadyUpvoted}, types(rs))

	assert.Equal(t, KarmaPlusOne, h.user(t, 2).Karma)
	notices := h.rec.privateTo(2)
	require.Len(t, notices, 1)
	assert.Equal(t, reply.KarmaNotification, notices[0].Message.Type)
	assert.Equal(t, msid, notices[0].ReplyTo)

	rs, err = h.core.GiveKarma(ctx, alice, 777)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.ErrNotInCache}, types(rs))
}

func TestGiveKarmaHidden(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.join(t, caller(1, "alice"), caller(2, "bob"), caller(3, "carol"))
	_, err := h.core.ToggleKarma(ctx, caller(2, "bob"))
	require.NoError(t, err)
	msid := h.send(t, caller(2, "bob"))

	var wg sync.WaitGroup
	for _, id := range []int64{1, 3, 1, 3} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = h.core.GiveKarma(ctx, caller(id, fmt.Sprint(id)), msid)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, h.user(t, 2).Karma)
	assert.Empty(t, h.rec.privateTo(2))
}

// first user becomes sysop, promotes a mod, the mod warns a third user, and
// unbanning someone who is not banned is a conflict.
func TestEndToEndModeration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	first, second, third := caller(1, "first"), caller(2, "second"), caller(3, "third")

	h.join(t, first)
	assert.Equal(t, entity.RankSysop, h.user(t, 1).Rank)
	h.join(t, second)
	assert.Equal(t, entity.RankUser, h.user(t, 2).Rank)
	h.join(t, third)

	rs, err := h.core.Promote(ctx, first, "second", entity.RankMod)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	notices := h.rec.privateTo(2)
	require.Len(t, notices, 1)
	assert.Equal(t, reply.PromotedMod, notices[0].Message.Type)

	msid := h.send(t, third)
	rs, err = h.core.Warn(ctx, second, msid, "", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	u := h.user(t, 3)
	assert.Equal(t, 1, u.Warnings)
	require.NotNil(t, u.CooldownUntil)
	assert.True(t, u.CooldownUntil.After(h.clock.Now()))

	rs, err = h.core.Unblacklist(ctx, first, "third")
	require.NoError(t, err)
	require.Equal(t, []reply.Type{reply.ErrNotBlacklisted}, types(rs))
	assert.Equal(t, reply.Conflict, rs[0].Type.Category())
}

// failOnceDirectory fails the first WithLock on one id.
type failOnceDirectory struct {
	UserDirectory
	bad    int64
	failed bool
}

func (f *failOnceDirectory) WithLock(ctx context.Context, id int64, fn func(*entity.User) error) error {
	if id == f.bad && !f.failed {
		f.failed = true
		return errors.New("write failed")
	}
	return f.UserDirectory.WithLock(ctx, id, fn)
}

func TestWarnRetryAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	admin, carol := caller(1, "admin"), caller(2, "carol")
	h.join(t, admin, carol)
	msid := h.send(t, carol)

	h.core.users = &failOnceDirectory{UserDirectory: h.store, bad: 2}
	_, err := h.core.Warn(ctx, admin, msid, "rude", false)
	require.Error(t, err)
	cm, ok := h.core.cache.Get(msid)
	require.True(t, ok)
	assert.False(t, cm.Warned)

	rs, err := h.core.Warn(ctx, admin, msid, "rude", false)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.Success}, types(rs))
	u := h.user(t, 2)
	assert.Equal(t, 1, u.Warnings)
	assert.Equal(t, -KarmaWarnPenalty, u.Karma)
}

func TestGiveKarmaRetryAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	alice, bob := caller(1, "alice"), caller(2, "bob")
	h.join(t, alice, bob)
	msid := h.send(t, bob)

	h.core.users = &failOnceDirectory{UserDirectory: h.store, bad: 2}
	_, err := h.core.GiveKarma(ctx, alice, msid)
	require.Error(t, err)
	assert.False(t, h.core.cache.HasUpvoted(msid, 1))

	rs, err := h.core.GiveKarma(ctx, alice, msid)
	require.NoError(t, err)
	assert.Equal(t, []reply.Type{reply.KarmaThankYou}, types(rs))
	assert.Equal(t, KarmaPlusOne, h.user(t, 2).Karma)
}
