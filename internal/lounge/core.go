// Package lounge is the moderation and relay core. Every user-facing command
// is a method on Core that takes the calling platform identity and returns the
// replies for the event glue to render.
package lounge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/broadcast"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/cache"
	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	settingentity "github.com/ovaphlow/pitchfork/service-lounge/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

// UserDirectory is the persisted set of users. WithLock is the only way a
// record is changed; an unknown id fails with user.ErrNotFound.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (*entity.User, error)
	Iterate(ctx context.Context) iter.Seq2[*entity.User, error]
	Add(ctx context.Context, u *entity.User) error
	WithLock(ctx context.Context, id int64, fn func(*entity.User) error) error
}

// ConfigStore holds the singleton system config.
type ConfigStore interface {
	SystemConfig(ctx context.Context) (*settingentity.SystemConfig, error)
	WithSystemConfigLock(ctx context.Context, fn func(*settingentity.SystemConfig) error) error
}

// AuditLog receives one entry per moderation action.
type AuditLog interface {
	Record(ctx context.Context, e modlogentity.Entry) error
}

// Config holds the operator settings the core acts on.
type Config struct {
	BlacklistContact   string
	EnableSigning      bool
	AllowRemoveCommand bool
	// MediaLimitPeriod holds back media from new users; zero disables it.
	MediaLimitPeriod time.Duration
	VoiceSpamFilter  bool
	VoiceInterval    time.Duration
	SignInterval     time.Duration
	// AFKTimeout enables the inactivity sweep when non-zero.
	AFKTimeout time.Duration
	// Secret keys obfuscated ids and tripcodes.
	Secret []byte
}

// DefaultConfig mirrors the defaults of the config file.
func DefaultConfig() Config {
	return Config{
		VoiceSpamFilter: true,
		VoiceInterval:   60 * time.Second,
		SignInterval:    600 * time.Second,
	}
}

// Deps are the collaborators a Core is built from. Audit, Clock and Logger
// are optional.
type Deps struct {
	Users  UserDirectory
	System ConfigStore
	Sender *broadcast.Broadcaster
	Cache  *cache.Cache
	Audit  AuditLog
	Clock  clockwork.Clock
	Logger *zap.SugaredLogger
}

// Core owns the moderation state that is not persisted: spam scores, the
// throttles and the message cache.
type Core struct {
	cfg    Config
	users  UserDirectory
	system ConfigStore
	sender *broadcast.Broadcaster
	cache  *cache.Cache
	audit  AuditLog
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	scores  *ratelimit.ScoreKeeper
	voice   *ratelimit.VoiceThrottle
	signing *ratelimit.SigningThrottle
	media   *ratelimit.MediaLimiter

	// joinMu makes the first-user check and the insert one step.
	joinMu sync.Mutex
}

func New(cfg Config, d Deps) (*Core, error) {
	if d.Users == nil || d.System == nil || d.Sender == nil || d.Cache == nil {
		return nil, errors.New("lounge: users, system config, sender and cache are required")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Core{
		cfg:     cfg,
		users:   d.Users,
		system:  d.System,
		sender:  d.Sender,
		cache:   d.Cache,
		audit:   d.Audit,
		clock:   d.Clock,
		logger:  d.Logger,
		scores:  ratelimit.NewScoreKeeper(ratelimit.DefaultSpamLimit, ratelimit.DefaultSpamLimitHit),
		voice:   ratelimit.NewVoiceThrottle(d.Clock, cfg.VoiceInterval, ratelimit.DefaultVoiceLimit),
		signing: ratelimit.NewSigningThrottle(d.Clock, cfg.SignInterval),
		media:   ratelimit.NewMediaLimiter(d.Clock, cfg.MediaLimitPeriod),
	}, nil
}

// Caller is the platform identity attached to an inbound event.
type Caller struct {
	ID       int64
	Username *string
	Realname string
}

// Session is an authenticated, joined, non-blacklisted caller. Rank checks
// are only available on a Session, so they cannot run before authentication.
type Session struct {
	// User is the record as of the profile refresh. Re-fetch before relying on
	// it after any mutation.
	User entity.User
}

func (s *Session) atLeast(r entity.Rank) bool { return s.User.Rank >= r }

// authenticate runs the precondition pipeline. A nil Session means the
// returned replies (possibly with an error) are the whole answer.
func (c *Core) authenticate(ctx context.Context, ev Caller) (*Session, []reply.Reply, error) {
	_, err := c.users.Get(ctx, ev.ID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, reply.One(reply.UserNotInChat), nil
	}
	if err != nil {
		return nil, nil, err
	}

	var snap entity.User
	err = c.users.WithLock(ctx, ev.ID, func(u *entity.User) error {
		u.UpdateFromEvent(ev.Username, ev.Realname, c.clock.Now())
		snap = *u.Clone()
		return nil
	})
	if errors.Is(err, user.ErrNotFound) {
		return nil, reply.One(reply.UserNotInChat), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("refresh user %d: %w", ev.ID, err)
	}

	if snap.IsBlacklisted() {
		return nil, []reply.Reply{c.blacklistedReply(snap.BlacklistReason)}, nil
	}
	if !snap.IsJoined() {
		return nil, reply.One(reply.UserNotInChat), nil
	}
	return &Session{User: snap}, nil, nil
}

func (c *Core) blacklistedReply(reason *string) reply.Reply {
	r := ""
	if reason != nil {
		r = *reason
	}
	return reply.New(reply.ErrBlacklisted, "reason", r, "contact", c.cfg.BlacklistContact)
}

// pushSystemMessage sends m to one user, or to everyone but except when who is
// nil. Only messages seen by many users get a cache id.
func (c *Core) pushSystemMessage(m reply.Reply, who, except *entity.User, replyTo int64) {
	var msid int64
	if who == nil {
		msid = c.cache.Assign(cache.CachedMessage{})
	}
	c.sender.Reply(broadcast.Delivery{
		Message: m,
		ID:      msid,
		Target:  who,
		Except:  except,
		ReplyTo: replyTo,
	})
}

// record appends to the audit log. Failures are logged and otherwise ignored.
func (c *Core) record(ctx context.Context, action modlogentity.Action, actor *Session, target int64, msid int64, reason string) {
	moderationActions.WithLabelValues(string(action)).Inc()
	e := modlogentity.Entry{
		Action:    action,
		TargetID:  target,
		MessageID: msid,
		Reason:    reason,
		CreatedAt: c.clock.Now(),
	}
	if actor != nil {
		e.ActorID = actor.User.ID
	}
	c.logger.Infow("moderation action", "action", action, "actor", e.ActorID, "target", target, "msid", msid)
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, e); err != nil {
		c.logger.Warnw("audit record failed", "action", action, "target", target, "err", err)
	}
}

// findUser scans the directory for the first user matching fn.
func (c *Core) findUser(ctx context.Context, fn func(*entity.User) bool) (*entity.User, error) {
	for u, err := range c.users.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		if fn(u) {
			return u, nil
		}
	}
	return nil, nil
}

// userByName finds a user by platform username, case-insensitively. Users who
// left are only considered when includeLeft is set.
func (c *Core) userByName(ctx context.Context, name string, includeLeft bool) (*entity.User, error) {
	name = normalizeUsername(name)
	return c.findUser(ctx, func(u *entity.User) bool {
		if !u.IsJoined() && !includeLeft {
			return false
		}
		return u.Username != nil && normalizeUsername(*u.Username) == name
	})
}

// userByOID finds a joined user by today's obfuscated id.
func (c *Core) userByOID(ctx context.Context, oid string) (*entity.User, error) {
	now := c.clock.Now()
	return c.findUser(ctx, func(u *entity.User) bool {
		return u.IsJoined() && u.ObfuscatedID(c.cfg.Secret, now) == oid
	})
}

// cachedSender resolves a cached message to its author.
func (c *Core) cachedSender(ctx context.Context, msid int64) (cache.CachedMessage, *entity.User, []reply.Reply, error) {
	cm, ok := c.cache.Get(msid)
	if !ok || !cm.HasSender() {
		return cm, nil, reply.One(reply.ErrNotInCache), nil
	}
	u, err := c.users.Get(ctx, *cm.Sender)
	if errors.Is(err, user.ErrNotFound) {
		return cm, nil, reply.One(reply.ErrNotInCache), nil
	}
	if err != nil {
		return cm, nil, nil, err
	}
	return cm, u, nil, nil
}

func (c *Core) oid(u *entity.User) string {
	return u.ObfuscatedID(c.cfg.Secret, c.clock.Now())
}
