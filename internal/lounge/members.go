package lounge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	settingentity "github.com/ovaphlow/pitchfork/service-lounge/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// Join adds the caller to the chat. The very first user ever recorded becomes
// sysop.
func (c *Core) Join(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	existing, err := c.users.Get(ctx, ev.ID)
	switch {
	case err == nil:
		return c.rejoin(ctx, ev, existing)
	case !errors.Is(err, user.ErrNotFound):
		return nil, err
	}

	now := c.clock.Now()
	u := entity.New(ev.ID, now)
	u.UpdateFromEvent(ev.Username, ev.Realname, now)
	first := true
	for _, err := range c.users.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		first = false
		break
	}
	if first {
		u.Rank = entity.RankSysop
	}
	if err := c.users.Add(ctx, u); err != nil {
		return nil, fmt.Errorf("join %d: %w", ev.ID, err)
	}
	joins.Inc()
	c.logger.Infow("user joined", "user", u.String(), "rank", u.Rank.String())

	out := reply.One(reply.ChatJoin)
	cfg, err := c.system.SystemConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MOTD != "" {
		out = append(out, reply.New(reply.Custom, "text", cfg.MOTD))
	}
	return out, nil
}

func (c *Core) rejoin(ctx context.Context, ev Caller, existing *entity.User) ([]reply.Reply, error) {
	var out []reply.Reply
	err := c.users.WithLock(ctx, ev.ID, func(u *entity.User) error {
		u.UpdateFromEvent(ev.Username, ev.Realname, c.clock.Now())
		switch {
		case u.IsBlacklisted():
			out = []reply.Reply{c.blacklistedReply(u.BlacklistReason)}
		case u.IsJoined():
			out = reply.One(reply.UserInChat)
		default:
			u.Rejoin()
			out = reply.One(reply.ChatJoin)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out[0].Type == reply.ChatJoin {
		joins.Inc()
		c.logger.Infow("user rejoined", "user", existing.String())
	}
	return out, nil
}

// Leave removes the caller from the chat. The record stays.
func (c *Core) Leave(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if err := c.forceLeave(ctx, s.User.ID); err != nil {
		return nil, err
	}
	c.logger.Infow("user left", "user", s.User.String())
	return reply.One(reply.ChatLeave), nil
}

// ForceLeave is called by a transport that can no longer reach the user.
func (c *Core) ForceLeave(ctx context.Context, id int64) error {
	if err := c.forceLeave(ctx, id); err != nil {
		return err
	}
	c.logger.Warnw("force leaving user, transport blocked", "user", id)
	return nil
}

func (c *Core) forceLeave(ctx context.Context, id int64) error {
	var snap entity.User
	err := c.users.WithLock(ctx, id, func(u *entity.User) error {
		u.SetLeft(c.clock.Now())
		snap = *u.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	c.sender.StopInvoked(snap, false)
	return nil
}

// Info describes the caller to themselves.
func (c *Core) Info(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	u := &s.User
	now := c.clock.Now()
	var cooldown any
	if u.IsInCooldown(now) {
		cooldown = *u.CooldownUntil
	}
	var warnExpiry any
	if u.WarnExpiry != nil {
		warnExpiry = *u.WarnExpiry
	}
	return reply.One(reply.UserInfo,
		"id", c.oid(u),
		"username", u.FormattedName(),
		"rank_i", int(u.Rank),
		"rank", u.Rank.String(),
		"karma", u.Karma,
		"warnings", u.Warnings,
		"warnExpiry", warnExpiry,
		"cooldown", cooldown,
	), nil
}

// Users counts members. Mods also see left and blacklisted users.
func (c *Core) Users(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	var active, inactive, black int
	for u, err := range c.users.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		switch {
		case u.IsBlacklisted():
			black++
		case !u.IsJoined():
			inactive++
		default:
			active++
		}
	}
	if !s.atLeast(entity.RankMod) {
		return reply.One(reply.UsersInfo, "count", active), nil
	}
	return reply.One(reply.UsersInfoExtended,
		"active", active,
		"inactive", inactive,
		"blacklisted", black,
		"total", active+inactive+black,
	), nil
}

func (c *Core) Motd(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	cfg, err := c.system.SystemConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MOTD == "" {
		return nil, nil
	}
	return reply.One(reply.Custom, "text", cfg.MOTD), nil
}

func (c *Core) SetMotd(ctx context.Context, ev Caller, text string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !s.atLeast(entity.RankSysop) {
		return nil, nil
	}
	err = c.system.WithSystemConfigLock(ctx, func(cfg *settingentity.SystemConfig) error {
		cfg.MOTD = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, modlogentity.ActionMOTD, s, 0, 0, text)
	c.logger.Infow("motd set", "user", s.User.String(), "motd", text)
	return reply.One(reply.Success), nil
}

func (c *Core) ToggleDebug(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	var enabled bool
	err = c.users.WithLock(ctx, s.User.ID, func(u *entity.User) error {
		u.DebugEnabled = !u.DebugEnabled
		enabled = u.DebugEnabled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply.One(reply.BooleanConfig, "description", "Debug mode", "enabled", enabled), nil
}

func (c *Core) ToggleKarma(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	var hidden bool
	err = c.users.WithLock(ctx, s.User.ID, func(u *entity.User) error {
		u.HideKarma = !u.HideKarma
		hidden = u.HideKarma
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply.One(reply.BooleanConfig, "description", "Karma notifications", "enabled", !hidden), nil
}

// Tripcode shows the caller's stored tripcode, if any.
func (c *Core) Tripcode(ctx context.Context, ev Caller) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !c.cfg.EnableSigning {
		return reply.One(reply.ErrCommandDisabled), nil
	}
	var trip any
	if s.User.Tripcode != nil {
		trip = *s.User.Tripcode
	}
	return reply.One(reply.TripcodeInfo, "tripcode", trip), nil
}

// SetTripcode stores a "name#password" tripcode and returns its public form.
func (c *Core) SetTripcode(ctx context.Context, ev Caller, text string) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if !c.cfg.EnableSigning {
		return reply.One(reply.ErrCommandDisabled), nil
	}
	if !validTripcode(text) {
		return reply.One(reply.ErrInvalidTripFormat), nil
	}
	name, code, err := GenTripcode(text, c.cfg.Secret)
	if err != nil {
		return nil, err
	}
	err = c.users.WithLock(ctx, s.User.ID, func(u *entity.User) error {
		t := text
		u.Tripcode = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply.One(reply.TripcodeSet, "tripname", name, "tripcode", code), nil
}

// Say relays a rank-signed system message to everyone. The caller needs at
// least the rank being signed with.
func (c *Core) Say(ctx context.Context, ev Caller, as entity.Rank, text string, replyTo int64) ([]reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return rs, err
	}
	if as < entity.RankMod || !s.atLeast(as) {
		return nil, nil
	}
	c.pushSystemMessage(reply.New(reply.Custom, "text", text, "signature", signatureFor(as)), nil, nil, replyTo)
	c.logger.Infow("rank message sent", "user", s.User.String(), "as", as.String(), "text", text)
	return nil, nil
}

func signatureFor(r entity.Rank) string {
	switch {
	case r >= entity.RankSysop:
		return "sysop"
	case r >= entity.RankOwner:
		return "owner"
	case r >= entity.RankAdmin:
		return "admins"
	}
	return "mods"
}
