package lounge

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

// KarmaPlusOne and KarmaWarnPenalty are the karma deltas for an upvote and a warning.
const (
	KarmaPlusOne     = 1
	KarmaWarnPenalty = 10
)

// errOutranked aborts a WithLock without persisting when the target holds at
// least the caller's rank.
var errOutranked = errors.New("target outranks caller")

// InfoMod shows moderators who wrote a cached message, without revealing them.
func (c *Core) InfoMod(ctx context.Context, ev Caller, msid int64) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankMod) {
		return nil, nil
	}
	_, target, rs, err := c.cachedSender(ctx, msid)
	if target == nil {
		return rs, err
	}
	var cooldown any
	if target.IsInCooldown(c.clock.Now()) {
		cooldown = *target.CooldownUntil
	}
	return reply.One(reply.UserInfoMod,
		"id", c.oid(target),
		"karma", target.ObfuscatedKarma(),
		"cooldown", cooldown,
	), nil
}

// Warn gives the author of msid a warning and cooldown. A message can only be
// warned for once; with del set an already warned message is still deleted.
func (c *Core) Warn(ctx context.Context, ev Caller, msid int64, reason string, del bool) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankMod) {
		return nil, nil
	}
	_, target, rs, err := c.cachedSender(ctx, msid)
	if target == nil {
		return rs, err
	}

	first, found := c.cache.MarkWarned(msid)
	if !found {
		return reply.One(reply.ErrNotInCache), nil
	}
	if first {
		var snap entity.User
		var d time.Duration
		err := c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
			d = u.AddWarning(c.clock.Now())
			u.Karma -= KarmaWarnPenalty
			snap = *u.Clone()
			return nil
		})
		if err != nil {
			c.cache.UnmarkWarned(msid)
			return nil, err
		}
		c.pushSystemMessage(reply.New(reply.GivenCooldown,
			"duration", d,
			"deleted", del,
			"contact", c.cfg.BlacklistContact,
			"reason", reason,
		), &snap, nil, msid)
		c.record(ctx, modlogentity.ActionWarn, s, target.ID, msid, reason)
	} else if !del {
		return reply.One(reply.ErrAlreadyWarned), nil
	}

	if del {
		c.sender.Delete(msid)
		c.record(ctx, modlogentity.ActionDelete, s, target.ID, msid, reason)
	}
	c.logger.Infow("user warned", "by", s.User.String(), "target", c.oid(target), "deleted", del, "reason", reason)
	return reply.One(reply.Success), nil
}

// Remove deletes a message and notifies its author without a warning.
func (c *Core) Remove(ctx context.Context, ev Caller, msid int64, reason string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankMod) {
		return nil, nil
	}
	if !c.cfg.AllowRemoveCommand {
		return reply.One(reply.ErrCommandDisabled), nil
	}
	_, target, rs, err := c.cachedSender(ctx, msid)
	if target == nil {
		return rs, err
	}
	c.pushSystemMessage(reply.New(reply.MessageRemoved, "reason", reason), target, nil, msid)
	c.sender.Delete(msid)
	c.record(ctx, modlogentity.ActionRemove, s, target.ID, msid, reason)
	c.logger.Infow("message removed", "by", s.User.String(), "target", c.oid(target), "reason", reason)
	return reply.One(reply.Success), nil
}

// Cleanup deletes every cached message written by a since-blacklisted user.
func (c *Core) Cleanup(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankAdmin) {
		return nil, nil
	}
	c.logger.Infow("cleanup invoked", "user", s.User.String())

	banned := make(map[int64]bool)
	var msids []int64
	for _, cm := range c.cache.Snapshot() {
		if !cm.HasSender() {
			continue
		}
		b, seen := banned[*cm.Sender]
		if !seen {
			u, err := c.users.Get(ctx, *cm.Sender)
			if err != nil && !errors.Is(err, user.ErrNotFound) {
				return nil, err
			}
			b = u != nil && u.IsBlacklisted()
			banned[*cm.Sender] = b
		}
		if b && c.cache.MarkCleanup(cm.ID) {
			msids = append(msids, cm.ID)
		}
	}
	for _, id := range msids {
		c.sender.Delete(id)
	}
	c.record(ctx, modlogentity.ActionCleanup, s, 0, 0, strconv.Itoa(len(msids)))
	return reply.One(reply.CleanupQueued, "count", len(msids)), nil
}

// Blacklist bans the author of msid. Targets of equal or higher rank are
// silently left alone.
func (c *Core) Blacklist(ctx context.Context, ev Caller, msid int64, reason string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankAdmin) {
		return nil, nil
	}
	_, target, rs, err := c.cachedSender(ctx, msid)
	if target == nil {
		return rs, err
	}

	var snap entity.User
	err = c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
		if u.Rank >= s.User.Rank {
			return errOutranked
		}
		u.SetBlacklisted(c.clock.Now(), reason)
		snap = *u.Clone()
		return nil
	})
	if errors.Is(err, errOutranked) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.cache.MarkWarned(msid)
	c.sender.StopInvoked(snap, true)
	c.pushSystemMessage(c.blacklistedReply(snap.BlacklistReason), &snap, nil, msid)
	c.sender.Delete(msid)
	c.record(ctx, modlogentity.ActionBlacklist, s, snap.ID, msid, reason)
	c.logger.Infow("user blacklisted", "user", snap.String(), "by", s.User.String(), "reason", reason)
	return reply.One(reply.Success), nil
}

// Preban blacklists a numeric id given as "ID:REASON", creating a record for
// ids that never joined.
func (c *Core) Preban(ctx context.Context, ev Caller, arg string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankOwner) {
		return nil, nil
	}
	id, reason, ok := parsePreban(arg)
	if !ok {
		return reply.One(reply.ErrInvalidPrebanFormat), nil
	}

	existing, err := c.users.Get(ctx, id)
	switch {
	case errors.Is(err, user.ErrNotFound):
		u := entity.New(id, c.clock.Now())
		u.Realname = "PREBANNED"
		u.SetBlacklisted(c.clock.Now(), reason)
		if err := c.users.Add(ctx, u); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case existing.IsBlacklisted():
		return reply.One(reply.ErrAlreadyBanned), nil
	default:
		wasJoined := existing.IsJoined()
		var snap entity.User
		err := c.users.WithLock(ctx, id, func(u *entity.User) error {
			if u.Rank >= s.User.Rank {
				return errOutranked
			}
			u.SetBlacklisted(c.clock.Now(), reason)
			snap = *u.Clone()
			return nil
		})
		if errors.Is(err, errOutranked) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if wasJoined {
			c.sender.StopInvoked(snap, true)
			c.pushSystemMessage(c.blacklistedReply(snap.BlacklistReason), &snap, nil, 0)
		}
	}

	c.record(ctx, modlogentity.ActionPreban, s, id, 0, reason)
	c.logger.Infow("user prebanned", "by", s.User.String(), "target", id, "reason", reason)
	return reply.One(reply.Success), nil
}

const prebanSuffix = " (preemptively banned)"

func parsePreban(arg string) (int64, string, bool) {
	pos := strings.Index(arg, ":")
	if pos <= 0 || pos >= len(arg)-1 {
		return 0, "", false
	}
	if strings.ContainsAny(arg, "\n@") {
		return 0, "", false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(arg[:pos]), 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, arg[pos+1:] + prebanSuffix, true
}

// Unblacklist lifts a ban, found by username or by numeric id.
func (c *Core) Unblacklist(ctx context.Context, ev Caller, who string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankOwner) {
		return nil, nil
	}

	var target *entity.User
	missing := reply.ErrNoUser
	if id, perr := strconv.ParseInt(who, 10, 64); perr == nil {
		missing = reply.ErrNoUserByID
		target, err = c.users.Get(ctx, id)
		if errors.Is(err, user.ErrNotFound) {
			target, err = nil, nil
		}
	} else {
		target, err = c.userByName(ctx, who, true)
	}
	if err != nil {
		return nil, err
	}
	if target == nil {
		return reply.One(missing), nil
	}
	if !target.IsBlacklisted() {
		return reply.One(reply.ErrNotBlacklisted), nil
	}

	err = c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
		u.RemoveBlacklist()
		u.CooldownUntil = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, modlogentity.ActionUnblacklist, s, target.ID, 0, "")
	c.logger.Infow("ban removed", "by", s.User.String(), "user", target.String())
	return reply.One(reply.Success), nil
}

// Uncooldown ends a cooldown early and takes back one warning. who is an
// obfuscated id or a username.
func (c *Core) Uncooldown(ctx context.Context, ev Caller, who string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankOwner) {
		return nil, nil
	}

	var target *entity.User
	missing := reply.ErrNoUser
	if isOID(who) {
		missing = reply.ErrNoUserByID
		target, err = c.userByOID(ctx, who)
	} else {
		target, err = c.userByName(ctx, who, false)
	}
	if err != nil {
		return nil, err
	}
	if target == nil {
		return reply.One(missing), nil
	}
	if !target.IsInCooldown(c.clock.Now()) {
		return reply.One(reply.ErrNotInCooldown), nil
	}

	err = c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
		u.RemoveWarning(c.clock.Now())
		u.CooldownUntil = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, modlogentity.ActionUncooldown, s, target.ID, 0, "")
	c.logger.Infow("cooldown removed", "by", s.User.String(), "user", target.String(), "was_until", *target.CooldownUntil)
	return reply.One(reply.Success), nil
}

// isOID reports whether s looks like an obfuscated id rather than a username.
func isOID(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'v') {
			return false
		}
	}
	return true
}

// Promote raises a user to rank. The new rank must stay below the caller's.
func (c *Core) Promote(ctx context.Context, ev Caller, username string, rank entity.Rank) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankOwner) {
		return nil, nil
	}
	if rank >= s.User.Rank {
		return nil, nil
	}
	target, err := c.userByName(ctx, username, false)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return reply.One(reply.ErrNoUser), nil
	}
	if target.Rank >= rank {
		return nil, nil
	}

	var snap entity.User
	err = c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
		u.Rank = rank
		snap = *u.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case rank >= entity.RankAdmin:
		c.pushSystemMessage(reply.New(reply.PromotedAdmin), &snap, nil, 0)
	case rank >= entity.RankMod:
		c.pushSystemMessage(reply.New(reply.PromotedMod), &snap, nil, 0)
	}
	c.record(ctx, modlogentity.ActionPromote, s, snap.ID, 0, rank.String())
	c.logger.Infow("user promoted", "user", snap.String(), "by", s.User.String(), "rank", rank.String())
	return reply.One(reply.Success), nil
}

// Demote resets a user to the base rank. Users at or above the caller's rank
// are left alone.
func (c *Core) Demote(ctx context.Context, ev Caller, username string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankOwner) {
		return nil, nil
	}
	target, err := c.userByName(ctx, username, false)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return reply.One(reply.ErrNoUser), nil
	}

	err = c.users.WithLock(ctx, target.ID, func(u *entity.User) error {
		if u.Rank >= s.User.Rank {
			return errOutranked
		}
		u.Rank = entity.RankUser
		return nil
	})
	if errors.Is(err, errOutranked) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.record(ctx, modlogentity.ActionDemote, s, target.ID, 0, "")
	c.logger.Infow("user demoted", "user", target.String(), "by", s.User.String())
	return reply.One(reply.Success), nil
}

// GiveKarma upvotes msid on behalf of the caller.
func (c *Core) GiveKarma(ctx context.Context, ev Caller, msid int64) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	cm, ok := c.cache.Get(msid)
	if !ok || !cm.HasSender() {
		return reply.One(reply.ErrNotInCache), nil
	}
	if c.cache.HasUpvoted(msid, s.User.ID) {
		return reply.One(reply.ErrAlreadyUpvoted), nil
	}
	if *cm.Sender == s.User.ID {
		return reply.One(reply.ErrUpvoteOwnMessage), nil
	}
	added, found := c.cache.AddUpvote(msid, s.User.ID)
	if !found {
		return reply.One(reply.ErrNotInCache), nil
	}
	if !added {
		return reply.One(reply.ErrAlreadyUpvoted), nil
	}

	var snap entity.User
	err = c.users.WithLock(ctx, *cm.Sender, func(u *entity.User) error {
		u.Karma += KarmaPlusOne
		snap = *u.Clone()
		return nil
	})
	if err != nil {
		c.cache.RemoveUpvote(msid, s.User.ID)
		if errors.Is(err, user.ErrNotFound) {
			return reply.One(reply.ErrNotInCache), nil
		}
		return nil, err
	}
	upvotes.Inc()
	if !snap.HideKarma {
		c.pushSystemMessage(reply.New(reply.KarmaNotification), &snap, nil, msid)
	}
	return reply.One(reply.KarmaThankYou), nil
}
