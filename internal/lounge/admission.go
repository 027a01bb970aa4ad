package lounge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/scrypt"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/cache"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

// Flags describe an outgoing message for admission.
type Flags struct {
	Media    bool
	Voice    bool
	Signed   bool
	Tripcode bool
}

// PrepareOutgoing admits a user message for relay and returns the cache id
// it was assigned. On rejection the id is zero and the reply says why.
//
// The checks run in a fixed order so a user in cooldown always learns about
// the cooldown first: cooldown, tripcode, media, voice, spam score, signing.
func (c *Core) PrepareOutgoing(ctx context.Context, ev Caller, score int, f Flags) (int64, []reply.Reply, error) {
	s, rs, err := c.authenticate(ctx, ev)
	if s == nil {
		return 0, rs, err
	}
	u := &s.User

	if u.IsInCooldown(c.clock.Now()) {
		return c.reject("cooldown", reply.New(reply.ErrCooldown, "until", *u.CooldownUntil))
	}
	if f.Tripcode && u.Tripcode == nil {
		return c.reject("tripcode", reply.New(reply.ErrNoTripcode))
	}
	if f.Media && u.Rank < entity.RankMod {
		if left, ok := c.media.Check(u.Joined); !ok {
			return c.reject("media", reply.New(reply.ErrMediaLimit, "until", ratelimit.RemainingHours(left)))
		}
	}
	if f.Voice && c.cfg.VoiceSpamFilter && !c.voice.Allow(u.ID) {
		return c.reject("voice", reply.New(reply.ErrSpammyVoice))
	}
	if !c.scores.Increase(u.ID, score) {
		return c.reject("spam", reply.New(reply.ErrSpammy))
	}
	if f.Signed && !c.signing.Allow(u.ID) {
		return c.reject("sign", reply.New(reply.ErrSpammySign))
	}

	id := u.ID
	msid := c.cache.Assign(cache.CachedMessage{Sender: &id})
	admitted.Inc()
	return msid, nil, nil
}

func (c *Core) reject(reason string, r reply.Reply) (int64, []reply.Reply, error) {
	rejections.WithLabelValues(reason).Inc()
	return 0, []reply.Reply{r}, nil
}

const maxTripcodeLen = 30

// validTripcode accepts "name#password" on one line with both parts non-empty.
func validTripcode(text string) bool {
	pos := strings.Index(text, "#")
	if pos <= 0 || pos >= len(text)-1 {
		return false
	}
	return !strings.Contains(text, "\n") && utf8.RuneCountInString(text) <= maxTripcodeLen
}

// scrypt cost parameters for tripcodes.
const (
	tripN      = 1 << 14
	tripR      = 8
	tripP      = 1
	tripKeyLen = 9
)

var defaultTripSalt = []byte("lounge tripcode")

// GenTripcode splits "name#password" and derives the public code from the
// password. The same password and secret always produce the same code.
func GenTripcode(text string, secret []byte) (name, code string, err error) {
	pos := strings.Index(text, "#")
	if pos < 0 {
		return "", "", fmt.Errorf("tripcode %q has no separator", text)
	}
	salt := secret
	if len(salt) == 0 {
		salt = defaultTripSalt
	}
	key, err := scrypt.Key([]byte(text[pos+1:]), salt, tripN, tripR, tripP, tripKeyLen)
	if err != nil {
		return "", "", fmt.Errorf("derive tripcode: %w", err)
	}
	return text[:pos], "!" + base64.RawURLEncoding.EncodeToString(key), nil
}
