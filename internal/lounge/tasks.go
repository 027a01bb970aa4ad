package lounge

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/utilities"
)

const (
	SpamDecayInterval  = 5 * time.Second
	WarnSweepInterval  = 15 * time.Minute
	AFKSweepInterval   = 12 * time.Hour
	CacheSweepInterval = time.Hour
)

// Registrar runs callbacks periodically.
type Registrar interface {
	Register(name string, interval time.Duration, fn func(ctx context.Context))
}

// RegisterTasks hands the core's periodic work to r. The inactivity sweep is
// only registered when an AFK timeout is configured.
func (c *Core) RegisterTasks(r Registrar) {
	r.Register("spam-decay", SpamDecayInterval, func(context.Context) { c.DecaySpamScores() })
	r.Register("warn-expiry", WarnSweepInterval, func(ctx context.Context) {
		if _, err := c.ExpireWarnings(ctx); err != nil {
			c.logger.Warnw("warning sweep failed", "err", err)
		}
	})
	r.Register("cache-expiry", CacheSweepInterval, func(context.Context) { c.ExpireCache() })
	if c.cfg.AFKTimeout > 0 {
		r.Register("inactivity", AFKSweepInterval, func(ctx context.Context) {
			if _, err := c.MarkInactive(ctx); err != nil {
				c.logger.Warnw("inactivity sweep failed", "err", err)
			}
		})
	}
}

func (c *Core) DecaySpamScores() {
	c.scores.Decay()
}

// ExpireWarnings removes one warning from every joined user whose warning has
// expired. A failure on one user is logged and the sweep goes on; only a
// failure to list users is returned.
func (c *Core) ExpireWarnings(ctx context.Context) (int, error) {
	run := utilities.NewKSUID()
	n := 0
	for u, err := range c.users.Iterate(ctx) {
		if err != nil {
			return n, err
		}
		now := c.clock.Now()
		if !u.IsJoined() || u.WarnExpiry == nil || now.Before(*u.WarnExpiry) {
			continue
		}
		err := c.users.WithLock(ctx, u.ID, func(u *entity.User) error {
			if u.WarnExpiry != nil && !now.Before(*u.WarnExpiry) {
				u.RemoveWarning(now)
			}
			return nil
		})
		if err != nil {
			sweepErrors.WithLabelValues("warn-expiry").Inc()
			c.logger.Warnw("expire warning failed", "run", run, "user", u.ID, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		c.logger.Infow("warnings expired", "run", run, "count", n)
	}
	return n, nil
}

// MarkInactive flags joined users who have been idle past the AFK timeout and
// sends each a one-time notice. Elevated ranks never reach the threshold.
func (c *Core) MarkInactive(ctx context.Context) (int, error) {
	if c.cfg.AFKTimeout <= 0 {
		return 0, nil
	}
	run := utilities.NewKSUID()
	threshold := entity.InactivityThreshold(c.cfg.AFKTimeout)
	n := 0
	for u, err := range c.users.Iterate(ctx) {
		if err != nil {
			return n, err
		}
		now := c.clock.Now()
		if !u.IsJoined() || u.Inactive || !u.MessagePriority(now).Reaches(threshold) {
			continue
		}
		c.pushSystemMessage(reply.New(reply.AFKTimeout), u, nil, 0)
		err := c.users.WithLock(ctx, u.ID, func(u *entity.User) error {
			u.Inactive = true
			return nil
		})
		if err != nil {
			sweepErrors.WithLabelValues("inactivity").Inc()
			c.logger.Warnw("mark inactive failed", "run", run, "user", u.ID, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		c.logger.Infow("users marked inactive", "run", run, "count", n)
	}
	return n, nil
}

func (c *Core) ExpireCache() int {
	return c.cache.Expire()
}

// Stats is a point-in-time summary for operators.
type Stats struct {
	Joined         int `json:"joined"`
	Left           int `json:"left"`
	Blacklisted    int `json:"blacklisted"`
	Inactive       int `json:"inactive"`
	TrackedScores  int `json:"tracked_scores"`
	CachedMessages int `json:"cached_messages"`
}

func (c *Core) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		TrackedScores:  c.scores.Tracked(),
		CachedMessages: c.cache.Len(),
	}
	for u, err := range c.users.Iterate(ctx) {
		if err != nil {
			return Stats{}, err
		}
		switch {
		case u.IsBlacklisted():
			st.Blacklisted++
		case !u.IsJoined():
			st.Left++
		default:
			st.Joined++
			if u.Inactive {
				st.Inactive++
			}
		}
	}
	return st, nil
}

// Priority is the send-queue ordering key for a user; lower goes first.
func (c *Core) Priority(u *entity.User) entity.Priority {
	return u.MessagePriority(c.clock.Now())
}
