package lounge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/broadcast"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/cache"
	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/store/memstore"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

type stopCall struct {
	user      int64
	deleteOut bool
}

// recorder is a Receiver that keeps everything it is given.
type recorder struct {
	mu      sync.Mutex
	replies []broadcast.Delivery
	deletes []int64
	stops   []stopCall
}

func (r *recorder) Reply(d broadcast.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, d)
	return nil
}

func (r *recorder) Delete(msid int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, msid)
	return nil
}

func (r *recorder) StopInvoked(u entity.User, deleteOut bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, stopCall{user: u.ID, deleteOut: deleteOut})
	return nil
}

// privateTo returns the private deliveries sent to uid.
func (r *recorder) privateTo(uid int64) []broadcast.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcast.Delivery
	for _, d := range r.replies {
		if d.Target != nil && d.Target.ID == uid {
			out = append(out, d)
		}
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []modlogentity.Entry
}

func (a *memAudit) Record(_ context.Context, e modlogentity.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) actions() []modlogentity.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []modlogentity.Action
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	core  *Core
	store *memstore.Store
	clock *clockwork.FakeClock
	rec   *recorder
	audit *memAudit
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BlacklistContact = "@appeals"
	cfg.EnableSigning = true
	cfg.AllowRemoveCommand = true
	cfg.Secret = []byte("test secret")
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	sender := broadcast.New(nil)
	sender.Register("recorder", rec)
	store := memstore.New()
	audit := &memAudit{}

	core, err := New(cfg, Deps{
		Users:  store,
		System: store,
		Sender: sender,
		Cache:  cache.New(clock, node, 1000, 24*time.Hour),
		Audit:  audit,
		Clock:  clock,
	})
	require.NoError(t, err)
	return &harness{core: core, store: store, clock: clock, rec: rec, audit: audit}
}

func caller(id int64, username string) Caller {
	name := username
	return Caller{ID: id, Username: &name, Realname: "User " + username}
}

// join adds callers in order; the first one becomes sysop.
func (h *harness) join(t *testing.T, callers ...Caller) {
	t.Helper()
	for _, c := range callers {
		rs, err := h.core.Join(context.Background(), c)
		require.NoError(t, err)
		require.NotEmpty(t, rs)
		require.Equal(t, reply.ChatJoin, rs[0].Type)
	}
}

func (h *harness) user(t *testing.T, id int64) *entity.User {
	t.Helper()
	u, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (h *harness) setRank(t *testing.T, id int64, r entity.Rank) {
	t.Helper()
	require.NoError(t, h.store.WithLock(context.Background(), id, func(u *entity.User) error {
		u.Rank = r
		return nil
	}))
}

// send admits one plain message from c and returns its cache id.
func (h *harness) send(t *testing.T, c Caller) int64 {
	t.Helper()
	msid, rs, err := h.core.PrepareOutgoing(context.Background(), c, 1, Flags{})
	require.NoError(t, err)
	require.Empty(t, rs)
	require.NotZero(t, msid)
	h.core.DecaySpamScores()
	return msid
}

func types(rs []reply.Reply) []reply.Type {
	out := make([]reply.Type, len(rs))
	for i, r := range rs {
		out[i] = r.Type
	}
	return out
}
